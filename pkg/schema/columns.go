// Package schema plans the DDL, bulk-load and statistics statements that
// realize a synthetic table inside a query engine.
package schema

import (
	"strconv"
)

// ColumnNames 按维度生成列名：d <= 3 时为 x,y,z 的前缀，
// 4 <= d <= 26 时为 a,b,c,...，更高维度为 c1..cd
func ColumnNames(dims int) []string {
	if dims < 1 {
		return nil
	}
	names := make([]string, dims)
	switch {
	case dims <= 3:
		copy(names, []string{"x", "y", "z"}[:dims])
	case dims <= 26:
		for i := range names {
			names[i] = string(rune('a' + i))
		}
	default:
		for i := range names {
			names[i] = "c" + strconv.Itoa(i+1)
		}
	}
	return names
}
