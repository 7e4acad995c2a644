package privacy

import (
	"sort"

	"ragdesk-go/internal/model"
)

// CurrentConsents 对按写入顺序排列的同意历史做一次折叠，返回每个类型当前生效的记录。
// 同一类型取 CreatedAt 最新的一条，时间相同时取位置靠后的那条。历史本身不会被修改。
// 返回结果按类型名排序。
func CurrentConsents(history []model.ConsentRecord) []model.ConsentRecord {
	latest := make(map[string]int, len(history))
	for i, r := range history {
		j, ok := latest[r.ConsentType]
		if !ok || !r.CreatedAt.Before(history[j].CreatedAt) {
			latest[r.ConsentType] = i
		}
	}

	out := make([]model.ConsentRecord, 0, len(latest))
	for _, i := range latest {
		out = append(out, history[i])
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ConsentType < out[b].ConsentType })
	return out
}
