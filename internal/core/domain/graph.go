package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

type KnowledgeBase struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	GraphType   string `json:"graph_type,omitempty"`
}

const (
	GraphTypeGeneral  = "general"
	GraphTypePlaybook = "playbook"
)

type Entity struct {
	ID              int64          `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	Metadata        map[string]any `json:"meta,omitempty"`
	KnowledgeBaseID int64          `json:"knowledge_base_id,omitempty"`
}

// Key identifies an entity inside one fusion pass.
func (e Entity) Key() string {
	sum := sha256.Sum256([]byte(e.Name + "\x00" + e.Description))
	return hex.EncodeToString(sum[:])
}

type Relationship struct {
	ID              int64          `json:"id"`
	SourceEntity    string         `json:"source_entity"`
	TargetEntity    string         `json:"target_entity"`
	Description     string         `json:"description"`
	Weight          float64        `json:"weight"`
	Metadata        map[string]any `json:"meta,omitempty"`
	LastModifiedAt  time.Time      `json:"last_modified_at,omitempty"`
	KnowledgeBaseID int64          `json:"knowledge_base_id,omitempty"`
	Score           float64        `json:"score,omitempty"`
}

// RAGDescription renders the relationship as a single retrievable sentence.
func (r Relationship) RAGDescription() string {
	return fmt.Sprintf("%s -> %s -> %s", r.SourceEntity, r.Description, r.TargetEntity)
}

// Key is the normalized description used to merge duplicates across sources.
func (r Relationship) Key() string {
	return strings.Join(strings.Fields(strings.ToLower(r.RAGDescription())), " ")
}

type GraphResult struct {
	Query            string         `json:"query"`
	KnowledgeBaseIDs []int64        `json:"knowledge_base_ids,omitempty"`
	Entities         []Entity       `json:"entities"`
	Relationships    []Relationship `json:"relationships"`
	Children         []GraphResult  `json:"children,omitempty"`
}

func (g GraphResult) IsEmpty() bool {
	return len(g.Entities) == 0 && len(g.Relationships) == 0
}

// SubqueryGraph is the per sub-query slice of a fused result.
type SubqueryGraph struct {
	Query         string
	Entities      []Entity
	Relationships []Relationship
}

// Subqueries groups children by query, keeping first-seen query order.
func (g GraphResult) Subqueries() []SubqueryGraph {
	index := make(map[string]int)
	out := make([]SubqueryGraph, 0, len(g.Children))
	for _, child := range g.Children {
		pos, ok := index[child.Query]
		if !ok {
			pos = len(out)
			index[child.Query] = pos
			out = append(out, SubqueryGraph{Query: child.Query})
		}
		out[pos].Entities = append(out[pos].Entities, child.Entities...)
		out[pos].Relationships = append(out[pos].Relationships, child.Relationships...)
	}
	return out
}

// StoredGraph is the compact form persisted with chat messages.
type StoredGraph struct {
	Query            string        `json:"query"`
	KnowledgeBaseIDs []int64       `json:"knowledge_base_ids,omitempty"`
	EntityIDs        []int64       `json:"entities"`
	RelationshipIDs  []int64       `json:"relationships"`
	Children         []StoredGraph `json:"children,omitempty"`
}

func (g GraphResult) Stored() StoredGraph {
	out := StoredGraph{
		Query:            g.Query,
		KnowledgeBaseIDs: g.KnowledgeBaseIDs,
		EntityIDs:        make([]int64, 0, len(g.Entities)),
		RelationshipIDs:  make([]int64, 0, len(g.Relationships)),
	}
	for _, e := range g.Entities {
		out.EntityIDs = append(out.EntityIDs, e.ID)
	}
	for _, r := range g.Relationships {
		out.RelationshipIDs = append(out.RelationshipIDs, r.ID)
	}
	for _, child := range g.Children {
		out.Children = append(out.Children, child.Stored())
	}
	return out
}
