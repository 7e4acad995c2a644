package privacy

import (
	"encoding/json"
	"reflect"
	"sort"
	"time"

	"gorm.io/datatypes"

	"ragdesk-go/internal/model"
)

// Actor 是执行动作的人。
type Actor struct {
	ID   uint
	Role string
}

// Origin 是请求来源信息。
type Origin struct {
	IPAddress string
	UserAgent string
}

// Snapshot 是写入审计日志的状态快照。
type Snapshot map[string]any

// FieldChange 描述一个字段的变化。
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// RequestSnapshot 截取请求中会被状态机修改的字段。
func RequestSnapshot(r model.DataSubjectRequest) Snapshot {
	s := Snapshot{
		"status":       string(r.Status),
		"admin_notes":  r.AdminNotes,
		"approved_at":  timeOrNil(r.ApprovedAt),
		"completed_at": timeOrNil(r.CompletedAt),
		"processed_by": nil,
		"version":      r.Version,
		"result":       nil,
	}
	if r.ProcessedBy != nil {
		s["processed_by"] = *r.ProcessedBy
	}
	if len(r.Result) > 0 {
		s["result"] = json.RawMessage(r.Result)
	}
	return s
}

// ConsentSnapshot 截取一条同意记录。
func ConsentSnapshot(c model.ConsentRecord) Snapshot {
	return Snapshot{
		"consent_type":   c.ConsentType,
		"granted":        c.Granted,
		"policy_version": c.PolicyVersion,
	}
}

// Diff 返回 before 与 after 之间取值不同的字段。任一侧缺失的键视为 nil。
func Diff(before, after Snapshot) map[string]FieldChange {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}

	changes := make(map[string]FieldChange)
	for k := range keys {
		from, to := before[k], after[k]
		if !reflect.DeepEqual(from, to) {
			changes[k] = FieldChange{From: from, To: to}
		}
	}
	return changes
}

// ChangedFields 返回有变化的字段名，按字母序。
func ChangedFields(changes map[string]FieldChange) []string {
	out := make([]string, 0, len(changes))
	for k := range changes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func toJSON(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// AuditEvent 描述一次需要留痕的动作。
type AuditEvent struct {
	TargetType string
	TargetID   string
	Action     string
	Actor      Actor
	Origin     Origin
	OldStatus  string
	NewStatus  string
	Before     Snapshot
	After      Snapshot
}

// Entry 把事件转换为审计日志行，Changes 由前后快照计算得出。
func (e AuditEvent) Entry() model.AuditEntry {
	entry := model.AuditEntry{
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		Action:     e.Action,
		ActorID:    e.Actor.ID,
		ActorRole:  e.Actor.Role,
		OldStatus:  e.OldStatus,
		NewStatus:  e.NewStatus,
		IPAddress:  e.Origin.IPAddress,
		UserAgent:  e.Origin.UserAgent,
		Changes:    toJSON(Diff(e.Before, e.After)),
	}
	if e.Before != nil {
		entry.Before = toJSON(e.Before)
	}
	if e.After != nil {
		entry.After = toJSON(e.After)
	}
	return entry
}
