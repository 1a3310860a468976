package statistics

import (
	"fmt"
	"math"
	"sort"
)

// HTree 多维层次直方图
//
// 第 0 层按第一个属性把元组等深切分为 buckets[0] 段，每段在第 1 层再按第二个属性切分，
// 依此类推；叶子元素保存完整的多维桶边界与元组数。
type HTree struct {
	Root       *HTreeNode
	Dims       int
	Rows       int64
	NumBuckets int
}

// HTreeNode 树节点，Level 为 0 时是叶子层
type HTreeNode struct {
	Level    int
	Elements []*HTreeElement
}

// HTreeElement 节点中的一个分区
type HTreeElement struct {
	Key    Interval
	Child  *HTreeNode
	Bucket *HTreeBucket
}

// HTreeBucket 叶子桶
type HTreeBucket struct {
	Bounds []Interval
	Count  int64
}

// BuildHTree 由元组构建 HTree，buckets[i] 为第 i 个属性的分段数。
// 构建过程会重排 tuples。
func BuildHTree(tuples [][]int64, buckets []int) (*HTree, error) {
	if len(tuples) == 0 {
		return &HTree{Dims: len(buckets)}, nil
	}
	dims := len(tuples[0])
	if len(buckets) != dims {
		return nil, fmt.Errorf("htree: %d bucket counts for %d attributes", len(buckets), dims)
	}
	for i, b := range buckets {
		if b < 1 {
			return nil, fmt.Errorf("htree: bucket count for attribute %d must be >= 1", i)
		}
	}

	tree := &HTree{
		Root: &HTreeNode{Level: dims - 1},
		Dims: dims,
		Rows: int64(len(tuples)),
	}
	path := make([]Interval, 0, dims)
	tree.construct(tree.Root, path, tuples, buckets, 0)
	return tree, nil
}

func (t *HTree) construct(node *HTreeNode, path []Interval, tuples [][]int64, buckets []int, attr int) {
	sort.Slice(tuples, func(i, j int) bool { return tuples[i][attr] < tuples[j][attr] })

	capacity := int(math.Ceil(float64(len(tuples)) / float64(buckets[attr])))
	for begin := 0; begin < len(tuples); begin += capacity {
		end := min(begin+capacity, len(tuples))
		part := tuples[begin:end]
		key := Interval{Min: part[0][attr], Max: part[len(part)-1][attr]}
		path = append(path, key)

		elem := &HTreeElement{Key: key}
		if node.Level > 0 {
			elem.Child = &HTreeNode{Level: node.Level - 1}
			t.construct(elem.Child, path, part, buckets, attr+1)
		} else {
			bounds := make([]Interval, len(path))
			copy(bounds, path)
			elem.Bucket = &HTreeBucket{Bounds: bounds, Count: int64(len(part))}
			t.NumBuckets++
		}
		node.Elements = append(node.Elements, elem)

		path = path[:len(path)-1]
	}
}

// Search 返回与查询框相交的叶子桶
func (t *HTree) Search(box []Interval) []*HTreeBucket {
	if t.Root == nil || len(box) != t.Dims {
		return nil
	}
	var results []*HTreeBucket
	var walk func(node *HTreeNode, attr int)
	walk = func(node *HTreeNode, attr int) {
		for _, elem := range node.Elements {
			if !elem.Key.Overlaps(box[attr]) {
				continue
			}
			if elem.Child != nil {
				walk(elem.Child, attr+1)
			} else {
				results = append(results, elem.Bucket)
			}
		}
	}
	walk(t.Root, 0)
	return results
}

// EstimateSelectivity 估算查询框内的元组比例：相交桶按覆盖比例累加元组数
func (t *HTree) EstimateSelectivity(box []Interval) float64 {
	if t.Rows == 0 {
		return 0
	}
	for _, iv := range box {
		if iv.Empty() {
			return 0
		}
	}
	var rows float64
	for _, b := range t.Search(box) {
		ratio := 1.0
		for i, iv := range b.Bounds {
			ratio *= overlapProportion(iv, box[i])
		}
		rows += float64(b.Count) * ratio
	}
	return rows / float64(t.Rows)
}

// Explain 返回 HTree 的描述
func (t *HTree) Explain() string {
	if t == nil {
		return "Empty HTree"
	}
	return fmt.Sprintf("HTree(dims=%d, buckets=%d, rows=%d)", t.Dims, t.NumBuckets, t.Rows)
}
