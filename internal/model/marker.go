// internal/model/marker.go
package model

import (
	"sort"
	"strings"
)

// Marker
// ------------------------------------------------------------
// 이벤트에 붙는 이름 기반 태그 그래프.
// 자식 관계는 트리가 아니라 일반 그래프이며 순환(A→B→A)도 허용된다.
//
// 포인터로 노드를 연결하지 않고 "이름 → 자식 이름 목록" 인접 리스트로 보관한다.
// 모든 순회(Names, Contains, Equal, String)는 방문한 이름 집합을 들고 다닌다.
//
// 자식 목록은 항상 정렬 + 중복 제거된 상태를 유지한다.
type Marker struct {
	Name       string              `json:"name" bson:"name"`
	References map[string][]string `json:"references" bson:"references"`
}

func NewMarker(name string) *Marker {
	return &Marker{
		Name:       name,
		References: map[string][]string{name: nil},
	}
}

// Reference 는 from → to 간선을 추가하고 자기 자신을 반환한다(빌더용).
func (m *Marker) Reference(from, to string) *Marker {
	if m.References == nil {
		m.References = make(map[string][]string)
	}
	if _, ok := m.References[to]; !ok {
		m.References[to] = nil
	}

	children := m.References[from]
	i := sort.SearchStrings(children, to)
	if i < len(children) && children[i] == to {
		return m
	}
	children = append(children, "")
	copy(children[i+1:], children[i:])
	children[i] = to
	m.References[from] = children
	return m
}

// Children 은 name 의 직접 자식 목록(정렬됨).
func (m *Marker) Children(name string) []string {
	return m.References[name]
}

// Names 는 Name 에서 도달 가능한 모든 마커 이름을 방문 순서(DFS, 자식 정렬순)로 반환한다.
func (m *Marker) Names() []string {
	var out []string
	m.walk(func(n string) bool {
		out = append(out, n)
		return true
	})
	return out
}

// Contains 는 name 이 Name 에서 도달 가능한지 검사한다.
func (m *Marker) Contains(name string) bool {
	found := false
	m.walk(func(n string) bool {
		if n == name {
			found = true
			return false
		}
		return true
	})
	return found
}

func (m *Marker) walk(visit func(string) bool) {
	if m == nil {
		return
	}
	visited := make(map[string]struct{}, len(m.References))
	stack := []string{m.Name}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[n]; seen {
			continue
		}
		visited[n] = struct{}{}
		if !visit(n) {
			return
		}
		children := m.References[n]
		// 정렬 순서대로 방문하도록 역순 push
		for i := len(children) - 1; i >= 0; i-- {
			if _, seen := visited[children[i]]; !seen {
				stack = append(stack, children[i])
			}
		}
	}
}

// Equal 은 두 마커에서 도달 가능한 부분 그래프가 같은지 비교한다.
func (m *Marker) Equal(o *Marker) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.Name != o.Name {
		return false
	}
	visited := make(map[string]struct{})
	stack := []string{m.Name}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[n]; seen {
			continue
		}
		visited[n] = struct{}{}

		a, b := m.References[n], o.References[n]
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
			stack = append(stack, a[i])
		}
	}
	return true
}

// String 은 "m1[m2[m1...]]" 형태로 그래프를 펼친다.
// 이미 펼친 이름을 다시 만나면 "..." 으로 끊는다.
func (m *Marker) String() string {
	if m == nil {
		return "<nil>"
	}
	var sb strings.Builder
	visited := make(map[string]struct{})
	m.render(&sb, m.Name, visited)
	return sb.String()
}

func (m *Marker) render(sb *strings.Builder, name string, visited map[string]struct{}) {
	sb.WriteString(name)
	if _, seen := visited[name]; seen {
		sb.WriteString("...")
		return
	}
	visited[name] = struct{}{}

	children := m.References[name]
	if len(children) == 0 {
		return
	}
	sb.WriteByte('[')
	for i, c := range children {
		if i > 0 {
			sb.WriteString(", ")
		}
		m.render(sb, c, visited)
	}
	sb.WriteByte(']')
}
