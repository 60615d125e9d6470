package health

import "context"

// ConnectivityVerifier is the part of neo4j.DriverWithContext needed to
// probe the graph store.
type ConnectivityVerifier interface {
	VerifyConnectivity(ctx context.Context) error
}

// Neo4jChecker implements health checking for the Neo4j graph store.
type Neo4jChecker struct {
	driver ConnectivityVerifier
}

// NewNeo4jChecker creates a new Neo4j health checker.
func NewNeo4jChecker(driver ConnectivityVerifier) *Neo4jChecker {
	return &Neo4jChecker{driver: driver}
}

// HealthCheck verifies the driver can reach a server.
func (n *Neo4jChecker) HealthCheck(ctx context.Context) error {
	return n.driver.VerifyConnectivity(ctx)
}
