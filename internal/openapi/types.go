package openapi

import "github.com/getkin/kin-openapi/openapi3"

// Schema helpers. Every component the security API returns is assembled
// from these so the document stays consistent with the JSON tags in model.

func str(desc string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Description: desc}}
}

func enum(desc string, values ...string) *openapi3.SchemaRef {
	s := &openapi3.Schema{Type: &openapi3.Types{"string"}, Description: desc}
	for _, v := range values {
		s.Enum = append(s.Enum, v)
	}
	return &openapi3.SchemaRef{Value: s}
}

func dateTime(desc string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time", Description: desc}}
}

func integer(desc string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64", Description: desc}}
}

func boolean(desc string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}, Description: desc}}
}

func arrayOf(items *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: items}}
}

func object(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: props,
		Required:   required,
	}}
}

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

var riskLevels = []string{"low", "medium", "high", "critical"}

// componentSchemas returns every named schema referenced by the routes.
func componentSchemas() openapi3.Schemas {
	return openapi3.Schemas{
		"ErrorResponse": object(openapi3.Schemas{
			"error": object(openapi3.Schemas{
				"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
				"message": str(""),
				"context": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
			}, "code", "message"),
		}, "error"),

		"ListMeta": object(openapi3.Schemas{
			"count": integer("Number of records returned."),
			"limit": integer("Maximum records returned."),
		}),

		"SecurityFlags": object(openapi3.Schemas{
			"ip_binding":         boolean("Reject verification from a different address."),
			"user_agent_binding": boolean("Reject verification from a different user agent."),
		}),

		"CreateSessionRequest": object(openapi3.Schemas{
			"ip_binding":         boolean("Override the configured IP binding."),
			"user_agent_binding": boolean("Override the configured user agent binding."),
		}),

		"CreatedSession": object(openapi3.Schemas{
			"session_token":    str("Opaque session token; send it back in X-Admin-Session."),
			"session_verifier": str("Replay verifier; send it back in X-Admin-Session-Verifier."),
			"session":          ref("Session"),
		}, "session_token", "session_verifier"),

		"SessionCredentials": object(openapi3.Schemas{
			"session_token":    str("Replacement session token."),
			"session_verifier": str("Replacement verifier."),
		}, "session_token", "session_verifier"),

		"Session": object(openapi3.Schemas{
			"admin_id":         str(""),
			"role":             str(""),
			"ip_address":       str(""),
			"user_agent":       str(""),
			"created_at":       dateTime(""),
			"last_verified_at": dateTime(""),
			"is_active":        boolean(""),
			"security_flags":   ref("SecurityFlags"),
		}),

		"VerifyResult": object(openapi3.Schemas{
			"valid":        boolean(""),
			"risk_level":   enum("", riskLevels...),
			"warnings":     arrayOf(str("")),
			"rotation_due": boolean("The token is old enough to be rotated."),
			"cached":       boolean("Served from the verification cache."),
			"admin_id":     str(""),
			"role":         str(""),
		}),

		"SessionEvent": object(openapi3.Schemas{
			"id":           integer(""),
			"event_type":   enum("", "created", "verified", "rotated", "invalidated", "evicted", "anomaly", "bypass"),
			"admin_id":     str(""),
			"token_prefix": str(""),
			"ip_address":   str(""),
			"details":      &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
			"created_at":   dateTime(""),
		}),

		"FailureReport": object(openapi3.Schemas{
			"ip_address":         str("Address the failed attempt came from."),
			"failure_kind":       enum("", "invalid_credentials", "invalid_otp", "invalid_assertion", "invalid_session", "session_binding"),
			"identity_attempted": str("Identity the attempt claimed, if any."),
		}, "ip_address", "failure_kind"),

		"IPBlock": object(openapi3.Schemas{
			"ip_address":    str(""),
			"blocked_until": dateTime(""),
			"reason":        str(""),
			"incident_id":   str(""),
			"created_at":    dateTime(""),
		}),

		"BlockIncident": object(openapi3.Schemas{
			"incident_id":  str("BLOCK-YYYYMMDDHHMMSS-XXXX"),
			"ip_address":   str(""),
			"block_reason": str(""),
			"created_at":   dateTime(""),
			"resolved":     boolean(""),
			"resolved_at":  dateTime(""),
			"resolved_by":  str(""),
			"admin_notes":  str(""),
		}),

		"ResolveRequest": object(openapi3.Schemas{
			"notes": str("Resolution notes."),
		}),

		"ActionRequest": object(openapi3.Schemas{
			"action_type":   str("One of the recorded privileged action types."),
			"resource_type": str(""),
			"resource_id":   str(""),
			"risk_level":    enum("Defaults to the action type's risk.", riskLevels...),
			"success":       boolean("Defaults to true."),
		}, "action_type"),

		"AdminAction": object(openapi3.Schemas{
			"id":            integer(""),
			"admin_id":      str(""),
			"action_type":   str(""),
			"resource_type": str(""),
			"resource_id":   str(""),
			"risk_level":    enum("", riskLevels...),
			"ip_address":    str(""),
			"user_agent":    str(""),
			"success":       boolean(""),
			"created_at":    dateTime(""),
		}),

		"AnomalyAssessment": object(openapi3.Schemas{
			"admin_id":           str(""),
			"window_seconds":     integer(""),
			"action_count":       integer(""),
			"anomalies_detected": boolean(""),
			"anomalies":          arrayOf(enum("", "bulk_operations", "night_access", "address_churn", "critical_burst", "high_failure_rate")),
			"risk_score":         integer("0 to 100."),
			"details":            &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
			"recommendations":    arrayOf(str("")),
			"assessed_at":        dateTime(""),
		}),

		"AlertResult": object(openapi3.Schemas{
			"alert_sent":           boolean(""),
			"severity":             enum("", riskLevels...),
			"sessions_invalidated": integer("Sessions ended because the alert was critical."),
		}),

		"Schedule": object(openapi3.Schemas{
			"at": dateTime("When every active session will be invalidated."),
		}, "at"),
	}
}
