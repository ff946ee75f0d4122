package menu

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Item is a node of the navigation menu.
type Item struct {
	ID                 int64     `json:"id"`
	Key                string    `json:"key"`
	LabelEn            string    `json:"label_en"`
	LabelAr            string    `json:"label_ar"`
	Path               string    `json:"path"`
	ParentID           *int64    `json:"parent_id"`
	RequiredPermission string    `json:"required_permission,omitempty"`
	IsPublic           bool      `json:"is_public"`
	DisplayOrder       int       `json:"display_order"`
	IsActive           bool      `json:"is_active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Input carries the editable fields of a menu item.
type Input struct {
	Key                string `json:"key" validate:"required,max=100"`
	LabelEn            string `json:"label_en" validate:"required,max=200"`
	LabelAr            string `json:"label_ar" validate:"required,max=200"`
	Path               string `json:"path" validate:"max=500"`
	ParentID           *int64 `json:"parent_id" validate:"omitempty,gt=0"`
	RequiredPermission string `json:"required_permission" validate:"max=150"`
	IsPublic           bool   `json:"is_public"`
	DisplayOrder       int    `json:"display_order"`
}

var labelMatcher = language.NewMatcher([]language.Tag{language.English, language.Arabic})

// PreferredLanguage resolves an Accept-Language header to English or Arabic.
func PreferredLanguage(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, index, confidence := labelMatcher.Match(tags...)
	if confidence == language.No || index != 1 {
		return language.English
	}
	return language.Arabic
}

// Label returns the label for tag, falling back to English.
func (i Item) Label(tag language.Tag) string {
	if isArabic(tag) && strings.TrimSpace(i.LabelAr) != "" {
		return i.LabelAr
	}
	return i.LabelEn
}

func isArabic(tag language.Tag) bool {
	base, _ := tag.Base()
	arabic, _ := language.Arabic.Base()
	return base == arabic
}

// Node is an item with its nested children.
type Node struct {
	Item     Item
	Children []*Node
}

// NodeView is the localized JSON form of a Node.
type NodeView struct {
	ID       int64      `json:"id"`
	Key      string     `json:"key"`
	Label    string     `json:"label"`
	Path     string     `json:"path"`
	Children []NodeView `json:"children,omitempty"`
}

// Localize renders nodes with labels in tag.
func Localize(nodes []*Node, tag language.Tag) []NodeView {
	out := make([]NodeView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, NodeView{
			ID:       n.Item.ID,
			Key:      n.Item.Key,
			Label:    n.Item.Label(tag),
			Path:     n.Item.Path,
			Children: Localize(n.Children, tag),
		})
	}
	return out
}

// Order arranges items in hierarchy order: roots by (display_order, id),
// each followed by its subtree ordered the same way. Items whose parent is
// absent from the input are treated as roots. Items only reachable through a
// parent cycle are appended after the rooted hierarchy so none are lost.
func Order(items []Item) []Item {
	present := make(map[int64]struct{}, len(items))
	for _, item := range items {
		present[item.ID] = struct{}{}
	}
	children := make(map[int64][]Item)
	var roots []Item
	for _, item := range items {
		if item.ParentID != nil {
			if _, ok := present[*item.ParentID]; ok {
				children[*item.ParentID] = append(children[*item.ParentID], item)
				continue
			}
		}
		roots = append(roots, item)
	}
	sortSiblings(roots)
	for id := range children {
		sortSiblings(children[id])
	}

	out := make([]Item, 0, len(items))
	visited := make(map[int64]struct{}, len(items))
	var walk func(level []Item)
	walk = func(level []Item) {
		for _, item := range level {
			if _, seen := visited[item.ID]; seen {
				continue
			}
			visited[item.ID] = struct{}{}
			out = append(out, item)
			walk(children[item.ID])
		}
	}
	walk(roots)
	if len(out) < len(items) {
		var stranded []Item
		for _, item := range items {
			if _, seen := visited[item.ID]; !seen {
				stranded = append(stranded, item)
			}
		}
		sortSiblings(stranded)
		walk(stranded)
	}
	return out
}

// BuildTree nests items that are already in hierarchy order.
func BuildTree(items []Item) []*Node {
	nodes := make(map[int64]*Node, len(items))
	var roots []*Node
	for _, item := range items {
		node := &Node{Item: item}
		nodes[item.ID] = node
		if item.ParentID != nil {
			if parent, ok := nodes[*item.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	return roots
}

func sortSiblings(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].DisplayOrder != items[j].DisplayOrder {
			return items[i].DisplayOrder < items[j].DisplayOrder
		}
		return items[i].ID < items[j].ID
	})
}
