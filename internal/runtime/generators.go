package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/config"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/llmgateway"
	"github.com/Sergey-Bar-Alfred/rpgrt/internal/mapgraph"
)

// routeGenerator adapts the LLM Gateway to mapgraph.RouteGenerator. A
// failure here is not fatal to the graph: Graph.generateRouteConcept
// substitutes its own fallback route whenever GenerateRoute errors.
type routeGenerator struct {
	gateway *llmgateway.Gateway
	cfg     *config.Config
}

func (g routeGenerator) GenerateRoute(ctx context.Context, fromNode, toNode map[string]interface{}) (mapgraph.RouteConcept, error) {
	if g.gateway == nil {
		return mapgraph.RouteConcept{}, fmt.Errorf("runtime: no llm gateway configured")
	}
	prompt := fmt.Sprintf(`You are designing the path connecting two locations in a role-playing world.

Location A: %v - %v
Location B: %v - %v

Describe the route between them. Return JSON:
{
    "route_name": "name of the path",
    "geo_type": "terrain type",
    "description": "a short prose description",
    "risk_level": 1-5,
    "rumors": ["short rumor strings"]
}`, fromNode["name"], fromNode["desc"], toNode["name"], toNode["desc"])

	text, err := g.gateway.Complete(ctx, []llmgateway.Message{{Role: "user", Content: prompt}},
		g.cfg.LLM.Temperature, g.cfg.StageTokenCap("map_gen"), g.cfg.LLM.Timeout)
	if err != nil {
		return mapgraph.RouteConcept{}, err
	}
	jsonStr, ok := llmgateway.ExtractJSON(text)
	if !ok {
		return mapgraph.RouteConcept{}, fmt.Errorf("runtime: no JSON in route-generation response")
	}
	var route mapgraph.RouteConcept
	if err := json.Unmarshal([]byte(jsonStr), &route); err != nil {
		return mapgraph.RouteConcept{}, err
	}
	return route, nil
}

// locationGenerator adapts the LLM Gateway to mapgraph.DynamicLocationGenerator.
type locationGenerator struct {
	gateway *llmgateway.Gateway
	cfg     *config.Config
}

func (g locationGenerator) GenerateLocation(ctx context.Context, parentNode map[string]interface{}, keyword string) (mapgraph.DynamicLocationSpec, error) {
	if g.gateway == nil {
		return mapgraph.DynamicLocationSpec{}, fmt.Errorf("runtime: no llm gateway configured")
	}
	prompt := fmt.Sprintf(`A player wants to explore "%s" starting from the location below.

Parent location: %v - %v

Invent a new sub-location that plausibly fits. Return JSON:
{
    "name": "location name",
    "desc": "a short prose description",
    "geo_feature": "a distinguishing feature",
    "risk_level": 1-5,
    "connection_path_name": "name of the path connecting it to the parent"
}`, keyword, parentNode["name"], parentNode["desc"])

	text, err := g.gateway.Complete(ctx, []llmgateway.Message{{Role: "user", Content: prompt}},
		g.cfg.LLM.Temperature, g.cfg.StageTokenCap("map_gen"), g.cfg.LLM.Timeout)
	if err != nil {
		return mapgraph.DynamicLocationSpec{}, err
	}
	jsonStr, ok := llmgateway.ExtractJSON(text)
	if !ok {
		return mapgraph.DynamicLocationSpec{}, fmt.Errorf("runtime: no JSON in location-generation response")
	}
	var spec mapgraph.DynamicLocationSpec
	if err := json.Unmarshal([]byte(jsonStr), &spec); err != nil {
		return mapgraph.DynamicLocationSpec{}, err
	}
	return spec, nil
}
