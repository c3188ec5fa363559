// Package mapgraph is the dual-layer region graph: nodes are JSON blobs
// keyed by region id, edges are hashes of travel routes keyed by the
// originating node. Everything is id-indexed rather than pointer-linked, so
// the graph can hold cycles and be walked from cold storage without a
// deserialization pass.
package mapgraph

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/kv"
)

const (
	nodeKeyPrefix = "rpg:map:node:"
	edgeKeyPrefix = "rpg:map:edges:"

	// NodeTypeL2 marks a region seeded at world-genesis time.
	NodeTypeL2 = "L2"
	// NodeTypeL3 marks a hand-authored leaf location.
	NodeTypeL3 = "L3"
	// NodeTypeL3Dynamic marks a location synthesized at play time from a
	// player's free-text intent.
	NodeTypeL3Dynamic = "L3_Dynamic"
)

func nodeKey(id string) string { return nodeKeyPrefix + id }
func edgeKey(id string) string { return edgeKeyPrefix + id }

// RouteConcept describes the connective tissue between two regions: the
// name and flavor of the path between them, generated once and cached on
// both edge directions.
type RouteConcept struct {
	RouteName   string   `json:"route_name"`
	GeoType     string   `json:"geo_type,omitempty"`
	Description string   `json:"description"`
	RiskLevel   int      `json:"risk_level,omitempty"`
	Rumors      []string `json:"rumors,omitempty"`
}

// errorFallbackRoute is returned when route-concept generation fails for
// any reason other than a missing endpoint node. The risk_level of 99 is a
// load-bearing sentinel: it is how downstream systems recognize a route
// that was never actually designed.
var errorFallbackRoute = RouteConcept{
	RouteName:   "ERROR_FALLBACK",
	GeoType:     "Bug之地",
	Description: "生成失败，请检查日志。",
	RiskLevel:   99,
	Rumors:      []string{"程序员正在修 Bug"},
}

func missingNodeRoute() RouteConcept {
	return RouteConcept{RouteName: "迷雾小径", Description: "一片未知的迷雾区域"}
}

func noGeneratorRoute() RouteConcept {
	return RouteConcept{RouteName: "未知通路", Description: "无 LLM 支持"}
}

type edgePayload struct {
	TargetID  string       `json:"target_id"`
	Type      string       `json:"type"`
	RouteInfo RouteConcept `json:"route_info"`
}

// RouteGenerator produces the RouteConcept linking two region nodes. It is
// satisfied by llmgateway.Gateway through a thin adapter in the runtime
// wiring layer, kept separate here so the graph has no direct LLM
// dependency and can be tested without one.
type RouteGenerator interface {
	GenerateRoute(ctx context.Context, fromNode, toNode map[string]interface{}) (RouteConcept, error)
}

// Graph is the region graph store. A nil RouteGenerator degrades
// route-concept generation to the no-generator fallback route, never to an
// error. CreateDynamicSubLocation does not use it and takes its own
// generator instead.
type Graph struct {
	store kv.Store
	gen   RouteGenerator
}

// New builds a Graph over the given key/value store. gen may be nil.
func New(store kv.Store, gen RouteGenerator) *Graph {
	return &Graph{store: store, gen: gen}
}

// SaveNode writes a region node, stamping its id and type onto the payload
// the way the rest of the engine expects to read them back.
func (g *Graph) SaveNode(ctx context.Context, id string, data map[string]interface{}, nodeType string) error {
	data["node_id"] = id
	data["type"] = nodeType
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return g.store.Set(ctx, nodeKey(id), string(encoded))
}

// GetNode loads a region node. found is false if the node does not exist.
func (g *Graph) GetNode(ctx context.Context, id string) (data map[string]interface{}, found bool, err error) {
	raw, found, err := g.store.Get(ctx, nodeKey(id))
	if err != nil || !found {
		return nil, found, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// NodeExists reports whether a node id has been materialized.
func (g *Graph) NodeExists(ctx context.Context, id string) (bool, error) {
	return g.store.Exists(ctx, nodeKey(id))
}

// GetNeighbors returns the raw edge-field mapping for a node: field names
// are "Travel:<target_id>", values are JSON-encoded edgePayloads.
func (g *Graph) GetNeighbors(ctx context.Context, id string) (map[string]string, error) {
	return g.store.HGetAll(ctx, edgeKey(id))
}

// ConnectNodesWithConcept writes both directions of a travel edge between
// two nodes, recording the same RouteConcept on each side.
func (g *Graph) ConnectNodesWithConcept(ctx context.Context, fromID, toID string, route RouteConcept) error {
	aToB, err := json.Marshal(edgePayload{TargetID: toID, Type: "Travel", RouteInfo: route})
	if err != nil {
		return err
	}
	bToA, err := json.Marshal(edgePayload{TargetID: fromID, Type: "Travel", RouteInfo: route})
	if err != nil {
		return err
	}
	if err := g.store.HSet(ctx, edgeKey(fromID), map[string]string{"Travel:" + toID: string(aToB)}); err != nil {
		return err
	}
	return g.store.HSet(ctx, edgeKey(toID), map[string]string{"Travel:" + fromID: string(bToA)})
}

func (g *Graph) generateRouteConcept(ctx context.Context, fromID, toID string) RouteConcept {
	nodeA, foundA, errA := g.GetNode(ctx, fromID)
	nodeB, foundB, errB := g.GetNode(ctx, toID)
	if errA != nil || errB != nil || !foundA || !foundB {
		return missingNodeRoute()
	}
	if g.gen == nil {
		return noGeneratorRoute()
	}
	route, err := g.gen.GenerateRoute(ctx, nodeA, nodeB)
	if err != nil {
		return errorFallbackRoute
	}
	return route
}

// RegionSeed is one entry of the world-genesis region list handed to
// IngestL2Graph.
type RegionSeed struct {
	RegionID  string                 `json:"region_id"`
	Neighbors []string               `json:"neighbors,omitempty"`
	Fields    map[string]interface{} `json:"-"`
}

// IngestL2Graph materializes a batch of genesis regions and wires travel
// edges between declared neighbors. It is idempotent: an edge whose field already
// exists in the from-node's hash is left untouched rather than regenerated, so a
// restarted ingest never overwrites a route concept a player has already
// seen narrated.
func (g *Graph) IngestL2Graph(ctx context.Context, regions []RegionSeed) error {
	// Pass 1: materialize every node before any edge is considered, so
	// neighbor lookups during route generation never race a half-built graph.
	for _, r := range regions {
		if r.RegionID == "" {
			continue
		}
		payload := make(map[string]interface{}, len(r.Fields))
		for k, v := range r.Fields {
			payload[k] = v
		}
		if err := g.SaveNode(ctx, r.RegionID, payload, NodeTypeL2); err != nil {
			return err
		}
	}

	// Pass 2: connect declared neighbors, skipping edges that already exist.
	for _, r := range regions {
		for _, toID := range r.Neighbors {
			exists, err := g.store.HExists(ctx, edgeKey(r.RegionID), "Travel:"+toID)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			route := g.generateRouteConcept(ctx, r.RegionID, toID)
			if err := g.ConnectNodesWithConcept(ctx, r.RegionID, toID, route); err != nil {
				return err
			}
		}
	}
	return nil
}

func clampRisk(v int) int {
	if v < 1 {
		return 1
	}
	if v > 5 {
		return 5
	}
	return v
}

// DynamicLocationSpec is the LLM-authored shape of a freshly synthesized
// sub-location, before it is turned into a graph node.
type DynamicLocationSpec struct {
	Name               string `json:"name"`
	Desc               string `json:"desc"`
	GeoFeature         string `json:"geo_feature"`
	RiskLevel          int    `json:"risk_level"`
	ConnectionPathName string `json:"connection_path_name"`
}

// DynamicLocationGenerator produces a DynamicLocationSpec for a player
// intent rooted at a parent node.
type DynamicLocationGenerator interface {
	GenerateLocation(ctx context.Context, parentNode map[string]interface{}, keyword string) (DynamicLocationSpec, error)
}

// CreateDynamicSubLocation synthesizes a brand-new leaf location under
// parentID from free-text player intent, then links it to the parent with
// a generated route. The node and its edge are written atomically in the
// sense that a failure to connect leaves no dangling unreachable node: on
// any failure after the node write, the node is rolled back.
func (g *Graph) CreateDynamicSubLocation(ctx context.Context, parentID, keyword string, gen DynamicLocationGenerator) (string, error) {
	parentNode, found, err := g.GetNode(ctx, parentID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrParentNotFound
	}
	if gen == nil {
		return "", ErrNoGenerator
	}

	spec, err := gen.GenerateLocation(ctx, parentNode, keyword)
	if err != nil {
		return "", err
	}

	riskLevel := clampRisk(spec.RiskLevel)
	if spec.Name == "" {
		spec.Name = keyword + "之地"
	}

	newID := uuid.New().String()
	nodeData := map[string]interface{}{
		"name":        spec.Name,
		"desc":        spec.Desc,
		"geo_feature": spec.GeoFeature,
		"risk_level":  riskLevel,
		"parent_id":   parentID,
		"keyword":     keyword,
	}

	if err := g.SaveNode(ctx, newID, nodeData, NodeTypeL3Dynamic); err != nil {
		return "", err
	}

	pathName := spec.ConnectionPathName
	if pathName == "" {
		pathName = "未知通路"
	}
	route := RouteConcept{
		RouteName:   pathName,
		Description: "Generated path linking parent location to dynamic sub-location.",
		RiskLevel:   riskLevel,
	}

	if err := g.ConnectNodesWithConcept(ctx, parentID, newID, route); err != nil {
		_ = g.store.Del(ctx, nodeKey(newID))
		return "", err
	}

	return newID, nil
}
