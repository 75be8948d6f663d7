// This file is part of go-mc/server project.
// Copyright (C) 2023.  Tnze
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Йоу, чат! Тут BVH дерево, в якому живуть межі резидентних чанків.
// Кожен вузол тримає коробку, яка накриває коробки всіх нащадків,
// тож запит колізій відкидає цілі гілки за одну перевірку.

package bvh

import (
	"container/heap"
	"fmt"

	"golang.org/x/exp/constraints"
)

// Bound - те, що вміє зливатись і має вартість для евристики площі
type Bound[I constraints.Float, B any] interface {
	Union(B) B
	Surface() I
}

// Node - вузол дерева. Value є тільки в листах.
type Node[I constraints.Float, B Bound[I, B], V any] struct {
	Box      B
	Value    V
	parent   *Node[I, B, V]
	children [2]*Node[I, B, V]
	isLeaf   bool
}

func (n *Node[I, B, V]) sibling(not *Node[I, B, V]) *Node[I, B, V] {
	switch not {
	case n.children[0]:
		return n.children[1]
	case n.children[1]:
		return n.children[0]
	}
	panic("bvh: node is not a child of its parent")
}

func (n *Node[I, B, V]) childLink(child *Node[I, B, V]) **Node[I, B, V] {
	switch child {
	case n.children[0]:
		return &n.children[0]
	case n.children[1]:
		return &n.children[1]
	}
	panic("bvh: node is not a child of its parent")
}

func (n *Node[I, B, V]) refit() {
	n.Box = n.children[0].Box.Union(n.children[1].Box)
}

// each обходить гілки, що проходять test. false з fn зупиняє обхід.
func (n *Node[I, B, V]) each(test func(B) bool, fn func(*Node[I, B, V]) bool) bool {
	if n == nil || !test(n.Box) {
		return true
	}
	if n.isLeaf {
		return fn(n)
	}
	return n.children[0].each(test, fn) && n.children[1].each(test, fn)
}

func (n *Node[I, B, V]) String() string {
	if n == nil {
		return "{}"
	}
	if n.isLeaf {
		return fmt.Sprint(n.Value)
	}
	return fmt.Sprintf("{%v, %v}", n.children[0], n.children[1])
}

// Tree - динамічне BVH дерево. Нульове значення готове до роботи.
type Tree[I constraints.Float, B Bound[I, B], V any] struct {
	root *Node[I, B, V]
	size int
}

// Len - кількість листів
func (t *Tree[I, B, V]) Len() int { return t.size }

// Insert додає лист. Сусіда шукаємо гілками з найменшою успадкованою
// вартістю, потім вставляємо нового батька і підтягуємо межі до кореня.
func (t *Tree[I, B, V]) Insert(box B, value V) *Node[I, B, V] {
	leaf := &Node[I, B, V]{Box: box, Value: value, isLeaf: true}
	t.size++
	if t.root == nil {
		t.root = leaf
		return leaf
	}

	sibling := t.root
	link := &t.root
	bestCost := t.root.Box.Union(box).Surface()
	leafCost := box.Surface()

	queue := searchHeap[I, Node[I, B, V]]{{node: t.root, link: &t.root}}
	for queue.Len() > 0 {
		p := heap.Pop(&queue).(searchItem[I, Node[I, B, V]])
		merged := p.node.Box.Union(box).Surface()
		if cost := p.inherited + merged; cost <= bestCost {
			bestCost, sibling, link = cost, p.node, p.link
		}
		inherited := p.inherited + merged - p.node.Box.Surface()
		if !p.node.isLeaf && inherited+leafCost < bestCost {
			for i := range p.node.children {
				heap.Push(&queue, searchItem[I, Node[I, B, V]]{
					node:      p.node.children[i],
					link:      &p.node.children[i],
					inherited: inherited,
				})
			}
		}
	}

	parent := &Node[I, B, V]{
		Box:      sibling.Box.Union(box),
		parent:   sibling.parent,
		children: [2]*Node[I, B, V]{sibling, leaf},
	}
	*link = parent
	leaf.parent, sibling.parent = parent, parent

	for p := parent; p != nil; p = p.parent {
		p.refit()
		t.rotate(p)
	}
	return leaf
}

// Delete прибирає лист і повертає його значення
func (t *Tree[I, B, V]) Delete(n *Node[I, B, V]) V {
	t.size--
	if n.parent == nil {
		t.root = nil
		return n.Value
	}
	sibling := n.parent.sibling(n)
	grand := n.parent.parent
	if grand == nil {
		t.root = sibling
		sibling.parent = nil
	} else {
		*grand.childLink(n.parent) = sibling
		sibling.parent = grand
		for p := grand; p != nil; p = p.parent {
			p.refit()
			t.rotate(p)
		}
	}
	n.parent = nil
	return n.Value
}

// rotate міняє дитину з братом, якщо це зменшує площу вузла
func (t *Tree[I, B, V]) rotate(n *Node[I, B, V]) {
	if n.isLeaf || n.parent == nil {
		return
	}
	sibling := n.parent.sibling(n)
	current := n.Box.Surface()
	for i := range n.children {
		keep := n.children[1-i]
		if keep.Box.Union(sibling.Box).Surface() >= current {
			continue
		}
		moved := n.children[i]
		*n.parent.childLink(sibling) = moved
		moved.parent = n.parent
		n.children[i] = sibling
		sibling.parent = n
		n.refit()
		return
	}
}

// Find викликає fn для кожного листа, чиї межі і межі всіх предків проходять test
func (t *Tree[I, B, V]) Find(test func(B) bool, fn func(*Node[I, B, V]) bool) {
	t.root.each(test, fn)
}

func (t *Tree[I, B, V]) String() string { return t.root.String() }

// Overlapping - тест для Find, що пропускає межі, які перетинають other
func Overlapping[B interface{ Overlaps(B) bool }](other B) func(B) bool {
	return func(b B) bool { return b.Overlaps(other) }
}

// Containing - тест для Find, що пропускає межі з точкою всередині
func Containing[P any, B interface{ Contains(P) bool }](point P) func(B) bool {
	return func(b B) bool { return b.Contains(point) }
}

type (
	searchHeap[I constraints.Float, N any] []searchItem[I, N]
	searchItem[I constraints.Float, N any] struct {
		node      *N
		link      **N
		inherited I
	}
)

func (h searchHeap[I, N]) Len() int           { return len(h) }
func (h searchHeap[I, N]) Less(i, j int) bool { return h[i].inherited < h[j].inherited }
func (h searchHeap[I, N]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *searchHeap[I, N]) Push(x any)        { *h = append(*h, x.(searchItem[I, N])) }
func (h *searchHeap[I, N]) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
