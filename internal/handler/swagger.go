package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dafibh/layouts/layouts-backend/docs"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	echoSwagger "github.com/swaggo/echo-swagger"
	"github.com/swaggo/swag"
)

// SwaggerPathPrefix is where the Swagger UI and its doc.json are served
const SwaggerPathPrefix = "/swagger/"

// OpenAPI3Spec represents an OpenAPI 3.0 spec structure
type OpenAPI3Spec struct {
	OpenAPI    string                 `json:"openapi"`
	Info       map[string]interface{} `json:"info"`
	Servers    []Server               `json:"servers"`
	Paths      map[string]interface{} `json:"paths"`
	Components map[string]interface{} `json:"components,omitempty"`
}

// Server represents an OpenAPI 3.0 server
type Server struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}

// DocsHandler serves the generated API documentation
type DocsHandler struct {
	servers []Server
}

// NewDocsHandler creates a DocsHandler listing the given servers in the OpenAPI 3 document
func NewDocsHandler(servers []Server) *DocsHandler {
	return &DocsHandler{servers: servers}
}

// DocsServers lists the local server and, when set, the public one
func DocsServers(port, publicURL string) []Server {
	servers := []Server{{URL: "http://localhost:" + port + docs.SwaggerInfo.BasePath, Description: "Local Development"}}
	if publicURL != "" {
		servers = append(servers, Server{URL: publicURL + docs.SwaggerInfo.BasePath, Description: "Production"})
	}
	return servers
}

// RegisterDocsRoutes serves the Swagger UI under /swagger/ and the OpenAPI 3 document at /openapi.json
func RegisterDocsRoutes(e *echo.Echo, h *DocsHandler) {
	e.GET(SwaggerPathPrefix+"*", echoSwagger.WrapHandler)
	e.GET("/openapi.json", h.ServeOpenAPI3Spec)
}

// transformRefs recursively rewrites $ref from #/definitions/ to #/components/schemas/
// and converts Swagger 2.0 parameters and responses to OpenAPI 3.0 form
func transformRefs(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))

		if _, hasIn := v["in"]; hasIn {
			if _, hasName := v["name"]; hasName {
				return transformParameter(v)
			}
		}

		for key, value := range v {
			if key == "$ref" {
				if ref, ok := value.(string); ok {
					result[key] = strings.Replace(ref, "#/definitions/", "#/components/schemas/", 1)
				} else {
					result[key] = value
				}
			} else {
				result[key] = transformRefs(value)
			}
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = transformRefs(item)
		}
		return result
	default:
		return data
	}
}

// transformParameter converts a non-body Swagger 2.0 parameter to OpenAPI 3.0 format
func transformParameter(param map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})

	for _, field := range []string{"name", "in", "description", "required"} {
		if val, ok := param[field]; ok {
			result[field] = val
		}
	}

	if param["in"] == "body" {
		return param
	}

	schema := make(map[string]interface{})
	for _, field := range []string{"type", "format", "enum", "default", "minimum", "maximum", "items"} {
		if val, ok := param[field]; ok {
			if field == "items" {
				schema[field] = transformRefs(val)
			} else {
				schema[field] = val
			}
		}
	}

	if len(schema) > 0 {
		result["schema"] = schema
	}

	return result
}

// transformOperation moves body parameters into requestBody and response
// schemas into content, which OpenAPI 3.0 requires
func transformOperation(op map[string]interface{}) {
	delete(op, "consumes")
	delete(op, "produces")

	if params, ok := op["parameters"].([]interface{}); ok {
		kept := make([]interface{}, 0, len(params))
		for _, p := range params {
			param, _ := p.(map[string]interface{})
			if param != nil && param["in"] == "body" {
				body := map[string]interface{}{
					"content": map[string]interface{}{
						echo.MIMEApplicationJSON: map[string]interface{}{"schema": param["schema"]},
					},
				}
				if desc, ok := param["description"]; ok {
					body["description"] = desc
				}
				if req, ok := param["required"]; ok {
					body["required"] = req
				}
				op["requestBody"] = body
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) > 0 {
			op["parameters"] = kept
		} else {
			delete(op, "parameters")
		}
	}

	if responses, ok := op["responses"].(map[string]interface{}); ok {
		for _, r := range responses {
			resp, _ := r.(map[string]interface{})
			if resp == nil {
				continue
			}
			if schema, ok := resp["schema"]; ok {
				resp["content"] = map[string]interface{}{
					echo.MIMEApplicationJSON: map[string]interface{}{"schema": schema},
				}
				delete(resp, "schema")
			}
		}
	}
}

// buildOpenAPI3 converts the registered Swagger 2.0 document
func buildOpenAPI3(doc string, servers []Server) (*OpenAPI3Spec, error) {
	var swagger2 map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &swagger2); err != nil {
		return nil, err
	}

	info, _ := swagger2["info"].(map[string]interface{})

	paths, _ := swagger2["paths"].(map[string]interface{})
	transformedPaths, _ := transformRefs(paths).(map[string]interface{})
	for _, item := range transformedPaths {
		ops, _ := item.(map[string]interface{})
		for _, op := range ops {
			if operation, ok := op.(map[string]interface{}); ok {
				transformOperation(operation)
			}
		}
	}

	components := make(map[string]interface{})
	if secDefs, ok := swagger2["securityDefinitions"].(map[string]interface{}); ok {
		components["securitySchemes"] = secDefs
	}
	if definitions, ok := swagger2["definitions"].(map[string]interface{}); ok {
		components["schemas"] = transformRefs(definitions)
	}

	return &OpenAPI3Spec{
		OpenAPI:    "3.0.3",
		Info:       info,
		Servers:    servers,
		Paths:      transformedPaths,
		Components: components,
	}, nil
}

// ServeOpenAPI3Spec serves the swagger spec converted to OpenAPI 3.0
func (h *DocsHandler) ServeOpenAPI3Spec(c echo.Context) error {
	doc, err := swag.ReadDoc(docs.SwaggerInfo.InstanceName())
	if err != nil {
		log.Error().Err(err).Msg("Failed to read swagger doc")
		return NewInternalError(c, "Failed to read API documentation")
	}

	spec, err := buildOpenAPI3(doc, h.servers)
	if err != nil {
		log.Error().Err(err).Msg("Failed to parse swagger doc")
		return NewInternalError(c, "Failed to parse API documentation")
	}

	return c.JSON(http.StatusOK, spec)
}
