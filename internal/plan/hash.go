package plan

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/mickamy/sfreport/internal/model"
	"github.com/mickamy/sfreport/internal/parser"
)

// Hash fingerprints the topology of one execution's plan. Only step and
// operator ids, parent links and operator types participate; records are
// put in (step, operator) order first so arrival order does not matter.
func Hash(paramHash string, records []model.PlanOperatorRecord) model.PlanHash {
	sorted := make([]model.PlanOperatorRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].StepID != sorted[j].StepID {
			return sorted[i].StepID < sorted[j].StepID
		}
		return sorted[i].OperatorID < sorted[j].OperatorID
	})

	var buf []byte
	buf = appendString(buf, paramHash)
	for _, r := range sorted {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(r.StepID)))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(r.OperatorID)))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(r.ParentOperatorIDs)))
		for _, p := range r.ParentOperatorIDs {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(p)))
		}
		buf = appendString(buf, r.OperatorType)
	}
	return model.PlanHash(fmt.Sprintf("%016x", xxhash.Sum64(buf)))
}

// HashExecutions groups a flat record set by query id and hashes each group.
// Query ids with no records are absent from the result.
func HashExecutions(paramHash string, records []model.PlanOperatorRecord) map[string]model.PlanHash {
	groups, _ := parser.GroupByQuery(records)
	out := make(map[string]model.PlanHash, len(groups))
	for id, recs := range groups {
		out[id] = Hash(paramHash, recs)
	}
	return out
}

// GroupShapes groups executions by plan hash, keeping the order in which each
// shape is first seen. Executions without operator rows are left out of both
// results. A shape's Records are those of its first execution.
func GroupShapes(paramHash string, executions []model.Execution, records []model.PlanOperatorRecord) ([]*model.PlanShape, map[string]model.PlanHash) {
	groups, _ := parser.GroupByQuery(records)

	hashes := make(map[string]model.PlanHash, len(groups))
	var shapes []*model.PlanShape
	byHash := map[model.PlanHash]*model.PlanShape{}
	for _, e := range executions {
		recs, ok := groups[e.QueryID]
		if !ok {
			continue
		}
		h := Hash(paramHash, recs)
		hashes[e.QueryID] = h
		shape, seen := byHash[h]
		if !seen {
			shape = &model.PlanShape{ParameterizedHash: paramHash, Hash: h, Records: recs}
			byHash[h] = shape
			shapes = append(shapes, shape)
		}
		shape.Executions = append(shape.Executions, e)
	}
	return shapes, hashes
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(s)))
	return append(buf, s...)
}
