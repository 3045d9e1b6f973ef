package toc

// OutlineNode is one heading together with the headings nested below it.
type OutlineNode struct {
	Heading  `yaml:",inline"`
	Children []*OutlineNode `json:"children,omitempty" yaml:"children,omitempty"`
}

// Outline is the nested form of a heading sequence, for machine consumers such as
// the metadata file. The HTML list is built by BuildMarkup, not from this tree.
type Outline []*OutlineNode

// BuildOutline nests headings under the closest preceding heading of a lower level.
// Level jumps do not create placeholder nodes: a level 3 heading directly below a
// level 1 heading becomes its child.
func BuildOutline(headings []Heading) Outline {
	type frame struct {
		node  *OutlineNode
		level int
	}

	root := &OutlineNode{}
	stack := []frame{{node: root, level: 0}}

	for _, h := range headings {
		for len(stack) > 1 && stack[len(stack)-1].level >= h.Level {
			stack = stack[:len(stack)-1]
		}
		node := &OutlineNode{Heading: h}
		parent := stack[len(stack)-1].node
		parent.Children = append(parent.Children, node)
		stack = append(stack, frame{node: node, level: h.Level})
	}

	return Outline(root.Children)
}

// Len returns the total number of headings in the outline.
func (o Outline) Len() int {
	n := 0
	for _, node := range o {
		n += 1 + Outline(node.Children).Len()
	}
	return n
}

// Depth returns the number of nesting levels in the outline.
func (o Outline) Depth() int {
	deepest := 0
	for _, node := range o {
		if d := 1 + Outline(node.Children).Depth(); d > deepest {
			deepest = d
		}
	}
	return deepest
}
