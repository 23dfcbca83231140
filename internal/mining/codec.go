package mining

import (
	"time"

	"github.com/wiseflow-dev/wiseflow/internal/types"
)

const (
	collectionTasks           = "mining_tasks"
	collectionInterconnections = "mining_interconnections"
)

func taskToDoc(t *types.MiningTask) map[string]any {
	deps := make([]string, 0, len(t.Dependencies))
	for id := range t.Dependencies {
		deps = append(deps, id)
	}
	return map[string]any{
		"id":            t.TaskID,
		"name":          t.Name,
		"task_type":     string(t.TaskType),
		"description":   t.Description,
		"search_params": t.SearchParams,
		"status":        string(t.Status),
		"priority":      int(t.Priority),
		"dependencies":  deps,
		"max_retries":   t.MaxRetries,
		"retry_count":   t.RetryCount,
		"timeout_ms":    t.Timeout.Milliseconds(),
		"results":       t.Results,
		"error":         t.Error,
		"created_at":    t.CreatedAt,
		"updated_at":    t.UpdatedAt,
		"context_files": t.ContextFiles,
		"auto_shutdown": t.AutoShutdown,
	}
}

func docToTask(doc map[string]any) *types.MiningTask {
	t := &types.MiningTask{
		TaskID:       asString(doc["id"]),
		Name:         asString(doc["name"]),
		TaskType:     types.MiningTaskType(asString(doc["task_type"])),
		Description:  asString(doc["description"]),
		SearchParams: asMap(doc["search_params"]),
		Status:       types.MiningTaskStatus(asString(doc["status"])),
		Priority:     types.Priority(asInt(doc["priority"])),
		Dependencies: make(map[string]struct{}),
		MaxRetries:   asInt(doc["max_retries"]),
		RetryCount:   asInt(doc["retry_count"]),
		Timeout:      time.Duration(asInt64(doc["timeout_ms"])) * time.Millisecond,
		Results:      asMap(doc["results"]),
		Error:        asString(doc["error"]),
		CreatedAt:    asTime(doc["created_at"]),
		UpdatedAt:    asTime(doc["updated_at"]),
		ContextFiles: asStringSlice(doc["context_files"]),
		AutoShutdown: asBool(doc["auto_shutdown"]),
	}
	for _, id := range asStringSlice(doc["dependencies"]) {
		t.Dependencies[id] = struct{}{}
	}
	if t.Results == nil {
		t.Results = make(map[string]any)
	}
	return t
}

func interconnectionToDoc(i *types.TaskInterconnection) map[string]any {
	return map[string]any{
		"id":             i.ID,
		"source_task_id": i.SourceTaskID,
		"target_task_id": i.TargetTaskID,
		"type":           string(i.Type),
		"status":         string(i.Status),
		"description":    i.Description,
		"metadata":       i.Metadata,
	}
}

func docToInterconnection(doc map[string]any) *types.TaskInterconnection {
	return &types.TaskInterconnection{
		ID:           asString(doc["id"]),
		SourceTaskID: asString(doc["source_task_id"]),
		TargetTaskID: asString(doc["target_task_id"]),
		Type:         types.InterconnectionType(asString(doc["type"])),
		Status:       types.InterconnectionStatus(asString(doc["status"])),
		Description:  asString(doc["description"]),
		Metadata:     asMap(doc["metadata"]),
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	if m == nil {
		return make(map[string]any)
	}
	return m
}

// asTime accepts both a live time.Time (the Mongo backend preserves BSON
// dates) and an RFC 3339 string (what the file backend yields once a
// document has round-tripped through JSON at least once).
func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}
		}
		return parsed
	default:
		return time.Time{}
	}
}

func asStringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
