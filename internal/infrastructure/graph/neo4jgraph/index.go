// Package neo4jgraph serves knowledge graph searches from Neo4j vector indexes.
//
// Every knowledge base shares one graph: entities are (:Entity) nodes and
// relationships are [:RELATED] edges, both tagged with knowledge_base_id and
// carrying an embedding property. Metadata is stored as a JSON string.
package neo4jgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/ports"
	"github.com/kirillkom/sales-knowledge-assistant/internal/infrastructure/resilience"
)

const (
	RelationshipIndex = "relationship_embedding"
	EntityIndex       = "entity_embedding"

	// Vector indexes are global, so per knowledge base searches ask for more
	// neighbours and filter afterwards.
	defaultOversample = 4
)

type Options struct {
	Database           string
	Dimensions         int
	Oversample         int
	ResilienceExecutor *resilience.Executor
}

type Index struct {
	driver     neo4j.DriverWithContext
	database   string
	dimensions int
	oversample int
	executor   *resilience.Executor
}

func Connect(ctx context.Context, uri, username, password string, options Options) (*Index, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verifying neo4j connectivity: %w", err)
	}
	return New(driver, options), nil
}

func New(driver neo4j.DriverWithContext, options Options) *Index {
	oversample := options.Oversample
	if oversample <= 0 {
		oversample = defaultOversample
	}
	return &Index{
		driver:     driver,
		database:   options.Database,
		dimensions: options.Dimensions,
		oversample: oversample,
		executor:   options.ResilienceExecutor,
	}
}

func (i *Index) Close(ctx context.Context) error {
	if i == nil || i.driver == nil {
		return nil
	}
	return i.driver.Close(ctx)
}

// EnsureIndexes creates the vector and lookup indexes when missing.
func (i *Index) EnsureIndexes(ctx context.Context) error {
	if i.dimensions <= 0 {
		return fmt.Errorf("ensuring indexes: vector dimensions must be positive")
	}
	session := i.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: i.database})
	defer session.Close(ctx)

	statements := []string{
		fmt.Sprintf(`CREATE VECTOR INDEX %s IF NOT EXISTS
FOR ()-[r:RELATED]-() ON (r.embedding)
OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %d, `+"`vector.similarity_function`"+`: 'cosine'}}`, RelationshipIndex, i.dimensions),
		fmt.Sprintf(`CREATE VECTOR INDEX %s IF NOT EXISTS
FOR (e:Entity) ON (e.embedding)
OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %d, `+"`vector.similarity_function`"+`: 'cosine'}}`, EntityIndex, i.dimensions),
		`CREATE INDEX entity_knowledge_base IF NOT EXISTS FOR (e:Entity) ON (e.knowledge_base_id)`,
	}
	for _, stmt := range statements {
		if _, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx, stmt, nil)
			return nil, err
		}); err != nil {
			return fmt.Errorf("ensuring indexes: %w", err)
		}
	}
	return nil
}

const searchRelationshipsQuery = `
CALL db.index.vector.queryRelationships($index, $k, $vector) YIELD relationship AS r, score
WHERE r.knowledge_base_id = $kb
MATCH (s:Entity)-[r]->(t:Entity)
RETURN r, s, t, score,
       COUNT { (t)<-[:RELATED]-() } AS in_degree,
       COUNT { (s)-[:RELATED]->() } AS out_degree
ORDER BY score DESC
LIMIT $limit`

func (i *Index) SearchRelationships(ctx context.Context, req ports.GraphSearchRequest) ([]ports.RelationshipCandidate, error) {
	if req.Limit <= 0 || len(req.Vector) == 0 {
		return nil, nil
	}
	params := i.searchParams(RelationshipIndex, req)
	return resilience.Do(ctx, i.executor, "neo4j.search_relationships", func(ctx context.Context) ([]ports.RelationshipCandidate, error) {
		records, err := i.read(ctx, searchRelationshipsQuery, params)
		if err != nil {
			return nil, fmt.Errorf("searching relationships: %w", err)
		}
		out := make([]ports.RelationshipCandidate, 0, len(records))
		for _, rec := range records {
			candidate, ok := relationshipCandidate(rec)
			if !ok || !withinDistance(candidate.Distance, req.MaxDistance) {
				continue
			}
			out = append(out, candidate)
		}
		return out, nil
	}, classifyNeo4jError)
}

const searchEntitiesQuery = `
CALL db.index.vector.queryNodes($index, $k, $vector) YIELD node AS e, score
WHERE e.knowledge_base_id = $kb
RETURN e, score
ORDER BY score DESC
LIMIT $limit`

func (i *Index) SearchEntities(ctx context.Context, req ports.GraphSearchRequest) ([]ports.EntityCandidate, error) {
	if req.Limit <= 0 || len(req.Vector) == 0 {
		return nil, nil
	}
	params := i.searchParams(EntityIndex, req)
	return resilience.Do(ctx, i.executor, "neo4j.search_entities", func(ctx context.Context) ([]ports.EntityCandidate, error) {
		records, err := i.read(ctx, searchEntitiesQuery, params)
		if err != nil {
			return nil, fmt.Errorf("searching entities: %w", err)
		}
		out := make([]ports.EntityCandidate, 0, len(records))
		for _, rec := range records {
			value, _ := rec["e"].(neo4j.Node)
			distance := distanceFromScore(toFloat(rec["score"]))
			if !withinDistance(distance, req.MaxDistance) {
				continue
			}
			out = append(out, ports.EntityCandidate{Entity: entityFromProps(value.Props), Distance: distance})
		}
		return out, nil
	}, classifyNeo4jError)
}

func (i *Index) searchParams(index string, req ports.GraphSearchRequest) map[string]any {
	vector := make([]float64, len(req.Vector))
	for idx, v := range req.Vector {
		vector[idx] = float64(v)
	}
	return map[string]any{
		"index":  index,
		"k":      req.Limit * i.oversample,
		"vector": vector,
		"kb":     req.KnowledgeBaseID,
		"limit":  req.Limit,
	}
}

// read runs query in a read transaction and returns every record as a map.
func (i *Index) read(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	session := i.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: i.database, AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		var rows []map[string]any
		for res.Next(ctx) {
			rows = append(rows, res.Record().AsMap())
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	rows, _ := result.([]map[string]any)
	return rows, nil
}

func relationshipCandidate(rec map[string]any) (ports.RelationshipCandidate, bool) {
	rel, ok := rec["r"].(neo4j.Relationship)
	if !ok {
		return ports.RelationshipCandidate{}, false
	}
	source, _ := rec["s"].(neo4j.Node)
	target, _ := rec["t"].(neo4j.Node)

	src := entityFromProps(source.Props)
	dst := entityFromProps(target.Props)
	relationship := relationshipFromProps(rel.Props)
	relationship.SourceEntity = src.Name
	relationship.TargetEntity = dst.Name

	return ports.RelationshipCandidate{
		Relationship: relationship,
		Source:       src,
		Target:       dst,
		Distance:     distanceFromScore(toFloat(rec["score"])),
		InDegree:     toInt(rec["in_degree"]),
		OutDegree:    toInt(rec["out_degree"]),
	}, true
}

func entityFromProps(props map[string]any) domain.Entity {
	return domain.Entity{
		ID:              toInt64(props["id"]),
		Name:            toString(props["name"]),
		Description:     toString(props["description"]),
		Metadata:        decodeMeta(props["meta"]),
		KnowledgeBaseID: toInt64(props["knowledge_base_id"]),
	}
}

func relationshipFromProps(props map[string]any) domain.Relationship {
	rel := domain.Relationship{
		ID:              toInt64(props["id"]),
		Description:     toString(props["description"]),
		Weight:          toFloat(props["weight"]),
		Metadata:        decodeMeta(props["meta"]),
		KnowledgeBaseID: toInt64(props["knowledge_base_id"]),
	}
	switch v := props["last_modified_at"].(type) {
	case time.Time:
		rel.LastModifiedAt = v
	case string:
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			rel.LastModifiedAt = parsed
		}
	}
	return rel
}

// decodeMeta accepts the stored JSON string or a native map.
func decodeMeta(value any) map[string]any {
	switch v := value.(type) {
	case map[string]any:
		return v
	case string:
		if v == "" {
			return nil
		}
		var meta map[string]any
		if err := json.Unmarshal([]byte(v), &meta); err != nil {
			return nil
		}
		return meta
	default:
		return nil
	}
}

// distanceFromScore converts a cosine index score in [0, 1] back to cosine
// distance in [0, 2].
func distanceFromScore(score float64) float64 {
	return 2 * (1 - score)
}

func withinDistance(distance, limit float64) bool {
	return limit <= 0 || distance <= limit
}

func classifyNeo4jError(err error) resilience.ErrorClassification {
	if class, ok := resilience.ClassifyCommon(err); ok {
		return class
	}
	if neo4j.IsConnectivityError(err) || neo4j.IsRetryable(err) {
		return resilience.Transient
	}
	// Syntax and constraint errors are query bugs, not an outage.
	return resilience.Ignored
}

func toString(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return ""
}

func toInt64(value any) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func toInt(value any) int {
	return int(toInt64(value))
}

func toFloat(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}
