// Package privacy 实现隐私请求（数据主体请求）的状态机、级联删除、
// 同意记录解析以及审计快照。包内函数都不做 I/O，副作用由 service 层注入。
package privacy

import (
	"encoding/json"
	"time"

	"ragdesk-go/internal/model"
	"ragdesk-go/pkg/apperr"
)

// Action 是管理员（或请求人）对请求执行的动作，只能是下面四种之一。
type Action interface {
	Name() string
	action()
}

// Approve 批准请求。
type Approve struct{}

// Reject 拒绝请求，Notes 原样保存。
type Reject struct {
	Notes string
}

// Complete 完成请求。导出类请求的 ExportData 原样写入结果。
type Complete struct {
	Notes      string
	ExportData json.RawMessage
}

// Cancel 撤销尚未进入终态的请求。
type Cancel struct {
	Notes string
}

func (Approve) Name() string  { return "approve" }
func (Reject) Name() string   { return "reject" }
func (Complete) Name() string { return "complete" }
func (Cancel) Name() string   { return "cancel" }

func (Approve) action()  {}
func (Reject) action()   {}
func (Complete) action() {}
func (Cancel) action()   {}

// ParseAction 在边界处把请求体转换为具体的动作类型。
func ParseAction(name, notes string, exportData json.RawMessage) (Action, error) {
	hasExport := len(exportData) > 0 && string(exportData) != "null"
	if hasExport {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(exportData, &obj); err != nil {
			return nil, apperr.Invalid("export_data", "must be a JSON object")
		}
	}
	if hasExport && name != "complete" {
		return nil, apperr.Invalid("export_data", "only allowed with the complete action")
	}

	switch name {
	case "approve":
		return Approve{}, nil
	case "reject":
		return Reject{Notes: notes}, nil
	case "complete":
		c := Complete{Notes: notes}
		if hasExport {
			c.ExportData = exportData
		}
		return c, nil
	case "cancel":
		return Cancel{Notes: notes}, nil
	case "":
		return nil, apperr.Invalid("action", "is required")
	default:
		return nil, apperr.Invalid("action", "must be one of approve, reject, complete, cancel")
	}
}

// IsTerminal 报告状态是否为终态。
func IsTerminal(s model.RequestStatus) bool {
	switch s {
	case model.StatusCompleted, model.StatusRejected, model.StatusCancelled:
		return true
	}
	return false
}

// Next 计算执行动作后的状态。
// 终态上的任何动作都返回 AlreadyFinalizedError；守卫不满足时返回 InvalidTransitionError。
func Next(from model.RequestStatus, a Action) (model.RequestStatus, error) {
	if IsTerminal(from) {
		return "", &apperr.AlreadyFinalizedError{Status: string(from)}
	}

	switch a.(type) {
	case Approve:
		if from == model.StatusPending {
			return model.StatusApproved, nil
		}
	case Reject:
		if from == model.StatusPending || from == model.StatusApproved {
			return model.StatusRejected, nil
		}
	case Complete:
		// pending -> completed 用于可立即处理的请求
		if from == model.StatusApproved || from == model.StatusPending {
			return model.StatusCompleted, nil
		}
	case Cancel:
		if from == model.StatusPending || from == model.StatusApproved {
			return model.StatusCancelled, nil
		}
	}
	return "", &apperr.InvalidTransitionError{From: string(from), Action: a.Name()}
}

// Apply 返回执行动作后的请求副本，不修改入参。
// approve 只设置 ApprovedAt；其余动作进入终态并设置 CompletedAt。
func Apply(req model.DataSubjectRequest, a Action, actorID uint, now time.Time) (model.DataSubjectRequest, error) {
	to, err := Next(req.Status, a)
	if err != nil {
		return req, err
	}

	out := req
	out.Status = to
	out.ProcessedBy = &actorID

	switch act := a.(type) {
	case Approve:
		out.ApprovedAt = &now
	case Reject:
		out.AdminNotes = act.Notes
		out.CompletedAt = &now
	case Complete:
		if act.Notes != "" {
			out.AdminNotes = act.Notes
		}
		out.CompletedAt = &now
	case Cancel:
		if act.Notes != "" {
			out.AdminNotes = act.Notes
		}
		out.CompletedAt = &now
	}
	return out, nil
}

// ProcessingHours 返回从提交到处理的小时数，保留两位小数。
func ProcessingHours(submittedAt, processedAt time.Time) float64 {
	h := processedAt.Sub(submittedAt).Hours()
	if h < 0 {
		h = 0
	}
	return float64(int64(h*100+0.5)) / 100
}
