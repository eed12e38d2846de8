package httpx

import (
	"time"

	"github.com/configmat/configmat/internal/domain"
)

// Response payload shapes. Encrypted payloads are never echoed back;
// clients only learn that a secret exists.

func assetJSON(a domain.Asset) map[string]any {
	return map[string]any{
		"id":           a.ID,
		"name":         a.Name,
		"slug":         a.Slug,
		"description":  a.Description,
		"context_type": a.ContextType,
		"context":      a.Context,
		"created_at":   a.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":   a.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func assetsJSON(assets []domain.Asset) []map[string]any {
	out := make([]map[string]any, 0, len(assets))
	for _, a := range assets {
		out = append(out, assetJSON(a))
	}
	return out
}

func objectJSON(o domain.Object) map[string]any {
	return map[string]any{
		"id":          o.ID,
		"name":        o.Name,
		"kind":        string(o.Kind),
		"description": o.Description,
		"created_at":  o.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func objectsJSON(objects []domain.Object) []map[string]any {
	out := make([]map[string]any, 0, len(objects))
	for _, o := range objects {
		out = append(out, objectJSON(o))
	}
	return out
}

func valueJSON(v domain.Value) map[string]any {
	payload := map[string]any{
		"key":         v.Key,
		"environment": v.Environment,
		"value_type":  string(v.Type),
		"updated_at":  v.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	switch v.Type {
	case domain.TypeJSON:
		payload["value_json"] = v.JSONValue
	case domain.TypeReference:
		payload["reference_id"] = v.ReferenceID
	case domain.TypeEncrypted:
		payload["has_secret"] = true
	default:
		payload["value_string"] = v.StringValue
	}
	return payload
}

func valuesJSON(values []domain.Value) []map[string]any {
	out := make([]map[string]any, 0, len(values))
	for _, v := range values {
		out = append(out, valueJSON(v))
	}
	return out
}

func versionJSON(v domain.Version) map[string]any {
	return map[string]any{
		"id":             v.ID,
		"environment":    v.Environment,
		"version_number": v.Number,
		"change_summary": v.Summary,
		"created_by":     v.CreatedBy,
		"created_at":     v.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func versionsJSON(versions []domain.Version) []map[string]any {
	out := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		out = append(out, versionJSON(v))
	}
	return out
}

func auditEntryJSON(e domain.AuditEntry) map[string]any {
	return map[string]any{
		"id":            e.ID,
		"seq":           e.Seq,
		"actor_id":      e.ActorID,
		"action":        e.Action,
		"target":        e.Target,
		"details":       e.Details,
		"hash":          e.Hash,
		"previous_hash": e.PreviousHash,
		"created_at":    e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func auditEntriesJSON(entries []domain.AuditEntry) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryJSON(e))
	}
	return out
}
