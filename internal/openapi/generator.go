package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/faucetdb/quotakey/internal/model"
)

// Generate builds the OpenAPI 3.1 document for the quotakey HTTP API.
func Generate(baseURL, version string) *openapi3.T {
	if version == "" {
		version = "1.0.0"
	}
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "quotakey API",
			Description: "API key issuance and per-endpoint, per-caller rate limiting.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-API-Key",
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}

	doc.Security = openapi3.SecurityRequirements{
		{"apiKey": {}},
		{"bearerAuth": {}},
	}

	addSchemas(doc)

	doc.Paths = openapi3.NewPaths()
	doc.Paths.Set("/api/v1/manage-api-keys", &openapi3.PathItem{Post: manageKeysOperation()})
	doc.Paths.Set("/api/v1/rate-limits", &openapi3.PathItem{Get: listRulesOperation()})
	doc.Paths.Set("/api/v1/rate-limits/check", &openapi3.PathItem{Post: checkOperation()})

	return doc
}

func addSchemas(doc *openapi3.T) {
	s := doc.Components.Schemas

	s["ErrorResponse"] = objectSchema(openapi3.Schemas{
		"success":           typed("boolean", ""),
		"error":             typed("string", ""),
		"details":           &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}, AdditionalProperties: openapi3.AdditionalProperties{Schema: typed("string", "")}}},
		"retryAfterSeconds": typed("integer", "int32"),
	}, "success", "error")

	s["Credential"] = objectSchema(openapi3.Schemas{
		"id":               typed("string", "uuid"),
		"owner_id":         typed("string", ""),
		"name":             typed("string", ""),
		"prefix":           typed("string", ""),
		"scopes":           arrayOf(typed("string", "")),
		"environment_mode": modeSchema(),
		"is_active":        typed("boolean", ""),
		"expires_at":       typed("string", "date-time"),
		"last_used_at":     typed("string", "date-time"),
		"created_at":       typed("string", "date-time"),
	}, "id", "name", "prefix", "scopes", "environment_mode", "is_active", "created_at")

	created := objectSchema(openapi3.Schemas{
		"key_id":           typed("string", "uuid"),
		"key":              typed("string", ""),
		"prefix":           typed("string", ""),
		"name":             typed("string", ""),
		"scopes":           arrayOf(typed("string", "")),
		"environment_mode": modeSchema(),
		"expires_at":       typed("string", "date-time"),
		"created_at":       typed("string", "date-time"),
	}, "key_id", "key", "prefix")
	created.Value.Description = "The raw key is returned once and cannot be retrieved again."
	s["CreatedKey"] = created

	s["RateLimitRule"] = objectSchema(openapi3.Schemas{
		"endpoint":         typed("string", ""),
		"environment_mode": modeSchema(),
		"max_per_minute":   typed("integer", "int32"),
		"max_per_hour":     typed("integer", "int32"),
		"max_per_day":      typed("integer", "int32"),
	}, "endpoint", "environment_mode", "max_per_minute")

	s["Decision"] = objectSchema(openapi3.Schemas{
		"allowed":          typed("boolean", ""),
		"message":          typed("string", ""),
		"limit":            typed("integer", "int32"),
		"remaining":        typed("integer", "int32"),
		"reset_in_seconds": typed("integer", "int32"),
	}, "allowed", "message")

	action := typed("string", "")
	action.Value.Enum = []interface{}{"create", "list", "revoke", "update"}
	name := typed("string", "")
	name.Value.MinLength = 1
	name.Value.MaxLength = openapi3.Uint64Ptr(100)
	scopes := arrayOf(typed("string", ""))
	scopes.Value.MinItems = 1
	scopes.Value.MaxItems = openapi3.Uint64Ptr(10)
	expires := typed("integer", "int32")
	expires.Value.Min = openapi3.Float64Ptr(1)
	expires.Value.Max = openapi3.Float64Ptr(365)

	s["ManageKeysRequest"] = objectSchema(openapi3.Schemas{
		"action":           action,
		"name":             name,
		"scopes":           scopes,
		"environment_mode": modeSchema(),
		"expires_in_days":  expires,
		"key_id":           typed("string", ""),
		"is_active":        typed("boolean", ""),
	}, "action")
}

func manageKeysOperation() *openapi3.Operation {
	data := &openapi3.SchemaRef{Value: &openapi3.Schema{
		OneOf: openapi3.SchemaRefs{
			ref("CreatedKey"),
			listOf(ref("Credential")),
			objectSchema(openapi3.Schemas{"key_id": typed("string", "")}, "key_id"),
		},
	}}

	responses := newResponses("200", "Action result", envelope(data))
	createdDesc := "Key created"
	responses.Set("201", &openapi3.ResponseRef{Value: &openapi3.Response{
		Description: &createdDesc,
		Content:     openapi3.NewContentWithJSONSchemaRef(envelope(ref("CreatedKey"))),
	}})
	addRateLimitedResponse(responses)

	return &openapi3.Operation{
		Tags:        []string{"keys"},
		Summary:     "Create, list, revoke or update the caller's API keys",
		Description: "Revoke and update succeed even when no key matched the id for this caller.",
		OperationID: "manageApiKeys",
		RequestBody: &openapi3.RequestBodyRef{Value: &openapi3.RequestBody{
			Required: true,
			Content:  openapi3.NewContentWithJSONSchemaRef(ref("ManageKeysRequest")),
		}},
		Responses: responses,
	}
}

func listRulesOperation() *openapi3.Operation {
	return &openapi3.Operation{
		Tags:        []string{"rate-limits"},
		Summary:     "List the rate limit rules of the caller's environment",
		OperationID: "listRateLimits",
		Responses:   newResponses("200", "Rules", envelope(listOf(ref("RateLimitRule")))),
	}
}

func checkOperation() *openapi3.Operation {
	responses := newResponses("200", "Call allowed", envelope(ref("Decision")))
	addRateLimitedResponse(responses)

	return &openapi3.Operation{
		Tags:        []string{"rate-limits"},
		Summary:     "Record one call against an endpoint and report whether it is allowed",
		OperationID: "checkRateLimit",
		RequestBody: &openapi3.RequestBodyRef{Value: &openapi3.RequestBody{
			Required: true,
			Content: openapi3.NewContentWithJSONSchemaRef(objectSchema(openapi3.Schemas{
				"endpoint": typed("string", ""),
			}, "endpoint")),
		}},
		Responses: responses,
	}
}

func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	for _, e := range []struct{ code, desc string }{
		{"400", "Bad request"},
		{"401", "Unauthorized"},
		{"500", "Internal server error"},
	} {
		desc := e.desc
		responses.Set(e.code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(ref("ErrorResponse")),
			},
		})
	}

	return responses
}

func addRateLimitedResponse(responses *openapi3.Responses) {
	desc := "Rate limited. Retry after the number of seconds in Retry-After."
	headers := openapi3.Headers{}
	for _, h := range []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"} {
		headers[h] = &openapi3.HeaderRef{Value: &openapi3.Header{Parameter: openapi3.Parameter{
			Schema: typed("integer", "int32"),
		}}}
	}
	responses.Set("429", &openapi3.ResponseRef{Value: &openapi3.Response{
		Description: &desc,
		Headers:     headers,
		Content:     openapi3.NewContentWithJSONSchemaRef(ref("ErrorResponse")),
	}})
}

func envelope(data *openapi3.SchemaRef) *openapi3.SchemaRef {
	return objectSchema(openapi3.Schemas{
		"success": typed("boolean", ""),
		"data":    data,
	}, "success", "data")
}

func listOf(item *openapi3.SchemaRef) *openapi3.SchemaRef {
	return objectSchema(openapi3.Schemas{
		"resource": arrayOf(item),
		"count":    typed("integer", "int32"),
	}, "resource", "count")
}

func modeSchema() *openapi3.SchemaRef {
	s := typed("string", "")
	for _, m := range model.Modes {
		s.Value.Enum = append(s.Value.Enum, string(m))
	}
	return s
}

func objectSchema(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: props,
		Required:   required,
	}}
}

func arrayOf(item *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:  &openapi3.Types{"array"},
		Items: item,
	}}
}

func typed(typ, format string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:   &openapi3.Types{typ},
		Format: format,
	}}
}

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}
