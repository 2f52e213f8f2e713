package neo4j

import (
	"context"
	"fmt"

	"github.com/efebarandurmaz/giftmap/internal/graph"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Repository implements graph.Repository using Neo4j.
type Neo4jRepository struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4j creates a Neo4j-backed repository.
func NewNeo4j(ctx context.Context, uri, username, password, database string) (*Neo4jRepository, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Neo4jRepository{driver: driver, database: database}, nil
}

func (r *Neo4jRepository) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: r.database})
}

func (r *Neo4jRepository) StoreSnapshot(ctx context.Context, sessionID string, snap graph.Snapshot) error {
	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	accounts, channels := nodeParams(snap.Nodes)
	memberships, gifts := edgeParams(snap.Edges)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx,
			"UNWIND $rows AS row "+
				"MERGE (a:Account {id: row.id, session: $session}) "+
				"SET a.label = row.label, a.username = row.username, a.bio = row.bio, "+
				"a.bot = row.bot, a.provenance = row.provenance",
			map[string]any{"rows": accounts, "session": sessionID}); err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx,
			"UNWIND $rows AS row "+
				"MERGE (c:Channel {id: row.id, session: $session}) SET c.label = row.label",
			map[string]any{"rows": channels, "session": sessionID}); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("store nodes: %w", err)
	}

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx,
			"UNWIND $rows AS row "+
				"MATCH (a:Account {id: row.from, session: $session}) "+
				"MATCH (c:Channel {id: row.to, session: $session}) "+
				"MERGE (a)-[:MEMBER_OF]->(c)",
			map[string]any{"rows": memberships, "session": sessionID}); err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx,
			"UNWIND $rows AS row "+
				"MATCH (s:Account {id: row.from, session: $session}) "+
				"MATCH (r:Account {id: row.to, session: $session}) "+
				"MERGE (s)-[g:GIFTED]->(r) SET g.weight = row.weight",
			map[string]any{"rows": gifts, "session": sessionID}); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("store edges: %w", err)
	}
	return nil
}

func (r *Neo4jRepository) CountSession(ctx context.Context, sessionID string) (int, int, error) {
	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx,
			"MATCH (n {session: $session}) "+
				"OPTIONAL MATCH (n)-[rel]->() "+
				"RETURN count(DISTINCT n) AS nodes, count(rel) AS rels",
			map[string]any{"session": sessionID})
		if err != nil {
			return nil, err
		}
		rec, err := records.Single(ctx)
		if err != nil {
			return nil, err
		}
		nodes, _ := rec.Get("nodes")
		rels, _ := rec.Get("rels")
		return [2]int{int(nodes.(int64)), int(rels.(int64))}, nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("count session %s: %w", sessionID, err)
	}
	counts := result.([2]int)
	return counts[0], counts[1], nil
}

func (r *Neo4jRepository) Ping(ctx context.Context) error {
	return r.driver.VerifyConnectivity(ctx)
}

func (r *Neo4jRepository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

func nodeParams(nodes []graph.Node) (accounts, channels []map[string]any) {
	accounts = []map[string]any{}
	channels = []map[string]any{}
	for _, n := range nodes {
		if n.Kind == graph.KindChannel {
			channels = append(channels, map[string]any{"id": n.ID, "label": n.Label})
			continue
		}
		accounts = append(accounts, map[string]any{
			"id":         n.ID,
			"label":      n.Label,
			"username":   n.Username,
			"bio":        n.Bio,
			"bot":        n.Bot,
			"provenance": n.Provenance,
		})
	}
	return accounts, channels
}

func edgeParams(edges []graph.Edge) (memberships, gifts []map[string]any) {
	memberships = []map[string]any{}
	gifts = []map[string]any{}
	for _, e := range edges {
		row := map[string]any{"from": e.From, "to": e.To, "weight": int64(e.Weight)}
		if e.Kind == graph.EdgeGift {
			gifts = append(gifts, row)
		} else {
			memberships = append(memberships, row)
		}
	}
	return memberships, gifts
}

var _ graph.Repository = (*Neo4jRepository)(nil)
