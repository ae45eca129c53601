package http

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/fgbview/internal/core/domain"
)

// featuresResult is the GraphQL shape of one range query.
type featuresResult struct {
	Count     int                `json:"count"`
	Truncated bool               `json:"truncated"`
	Features  []*geojson.Feature `json:"features"`
}

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	queryBoxType := graphql.NewObject(graphql.ObjectConfig{
		Name: "QueryBox",
		Fields: graphql.Fields{
			"min_x": &graphql.Field{Type: graphql.Float},
			"min_y": &graphql.Field{Type: graphql.Float},
			"max_x": &graphql.Field{Type: graphql.Float},
			"max_y": &graphql.Field{Type: graphql.Float},
			"empty": &graphql.Field{
				Type: graphql.Boolean,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source.(domain.QueryBox).IsEmpty(), nil
				},
			},
		},
	})

	// Geometry and properties are returned as GeoJSON text; the schema
	// stays independent of the dataset's columns.
	featureType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Feature",
		Fields: graphql.Fields{
			"id": &graphql.Field{
				Type: graphql.Int,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source.(*geojson.Feature).ID, nil
				},
			},
			"geometry": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					g := geojson.NewGeometry(p.Source.(*geojson.Feature).Geometry)
					b, err := json.Marshal(g)
					return string(b), err
				},
			},
			"properties": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					b, err := json.Marshal(p.Source.(*geojson.Feature).Properties)
					return string(b), err
				},
			},
		},
	})

	featuresType := graphql.NewObject(graphql.ObjectConfig{
		Name: "FeatureCollection",
		Fields: graphql.Fields{
			"count":     &graphql.Field{Type: graphql.Int},
			"truncated": &graphql.Field{Type: graphql.Boolean},
			"features":  &graphql.Field{Type: graphql.NewList(featureType)},
		},
	})

	sessionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Session",
		Fields: graphql.Fields{
			"session":    &graphql.Field{Type: graphql.String},
			"query_box":  &graphql.Field{Type: queryBoxType},
			"features":   &graphql.Field{Type: graphql.Int},
			"truncated":  &graphql.Field{Type: graphql.Boolean},
			"duration":   &graphql.Field{Type: graphql.String},
			"error":      &graphql.Field{Type: graphql.String},
			"updated_at": &graphql.Field{Type: graphql.DateTime},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"queryBox": &graphql.Field{
				Type:        queryBoxType,
				Description: "Derive the query box for a viewport",
				Args: graphql.FieldConfigArgument{
					"lng":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lat":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"ne_lng": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"ne_lat": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					vp := domain.Viewport{
						Center: domain.LngLat{Lng: p.Args["lng"].(float64), Lat: p.Args["lat"].(float64)},
						Bounds: domain.Bounds{
							NE: domain.LngLat{Lng: p.Args["ne_lng"].(float64), Lat: p.Args["ne_lat"].(float64)},
						},
					}
					return domain.DeriveQueryBoxWithFactor(vp, deps.Loader.ShrinkFactor), nil
				},
			},
			"features": &graphql.Field{
				Type:        featuresType,
				Description: "Features intersecting a bounding box",
				Args: graphql.FieldConfigArgument{
					"min_x": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"min_y": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"max_x": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"max_y": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"limit": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 1000},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					limit := p.Args["limit"].(int)
					if limit < 0 || limit > maxFeatureLimit {
						return nil, errors.New("limit out of range")
					}
					box := domain.ParseQueryBox(
						p.Args["min_x"].(float64), p.Args["min_y"].(float64),
						p.Args["max_x"].(float64), p.Args["max_y"].(float64),
					)
					fc, stats, err := deps.Features.Query(p.Context, box, limit)
					if err != nil {
						return nil, err
					}
					return featuresResult{Count: stats.Features, Truncated: stats.Truncated, Features: fc.Features}, nil
				},
			},
			"session": &graphql.Field{
				Type:        sessionType,
				Description: "Last refresh recorded for a surface session",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if deps.Sessions == nil {
						return nil, errors.New("session store not configured")
					}
					state, err := deps.Sessions.GetSession(p.Context, p.Args["id"].(string))
					if errors.Is(err, domain.ErrSessionNotFound) {
						return nil, nil
					}
					return state, err
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
