package paperparser

import (
	"math"
	"sort"
	"strings"
)

// LayoutReconstructor groups positioned fragments into lines and columns.
type LayoutReconstructor struct {
	cfg LayoutConfig
}

func NewLayoutReconstructor(cfg LayoutConfig) *LayoutReconstructor {
	return &LayoutReconstructor{cfg: cfg}
}

// band is a set of fragments sharing a vertical position, kept in X order.
type band struct {
	frags []TextFragment
}

// gap is a horizontal opening inside a band wide enough to be a column gutter.
type gap struct {
	left, right float64
}

func (g gap) contains(x float64) bool {
	return x > g.left && x < g.right
}

// ReconstructDocument reconstructs every page in ascending page order and concatenates the lines.
func (r *LayoutReconstructor) ReconstructDocument(pages map[int][]TextFragment) []Line {
	nums := make([]int, 0, len(pages))
	for p := range pages {
		nums = append(nums, p)
	}
	sort.Ints(nums)

	var lines []Line
	for _, p := range nums {
		lines = append(lines, r.ReconstructPage(p, pages[p])...)
	}
	return lines
}

// ReconstructPage turns one page's fragments into lines. Two-column pages yield every
// left-column line top to bottom before the right column. Each input fragment ends up in
// exactly one line.
func (r *LayoutReconstructor) ReconstructPage(page int, frags []TextFragment) []Line {
	if len(frags) == 0 {
		return nil
	}

	bands := r.groupBands(frags)
	boundary, split := r.columnBoundary(bands)

	var left, right []Line
	for _, b := range bands {
		if !split {
			left = append(left, r.buildLine(page, 0, b.frags))
			continue
		}

		var l, rt []TextFragment
		crossing := false
		for _, f := range b.frags {
			if f.X < boundary && f.right() > boundary {
				crossing = true
				break
			}
		}
		if crossing {
			left = append(left, r.buildLine(page, 0, b.frags))
			continue
		}
		for _, f := range b.frags {
			if f.X < boundary {
				l = append(l, f)
			} else {
				rt = append(rt, f)
			}
		}
		if len(l) > 0 {
			left = append(left, r.buildLine(page, 0, l))
		}
		if len(rt) > 0 {
			right = append(right, r.buildLine(page, 1, rt))
		}
	}

	return append(left, right...)
}

// groupBands sorts fragments by vertical centre and greedily collects those whose centres
// sit within LineTolerance of the first fragment of the band.
func (r *LayoutReconstructor) groupBands(frags []TextFragment) []band {
	idx := make([]int, len(frags))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		fa, fb := frags[idx[a]], frags[idx[b]]
		if fa.centerY() != fb.centerY() {
			return fa.centerY() < fb.centerY()
		}
		return fa.X < fb.X
	})

	var bands []band
	var anchor TextFragment
	for n, i := range idx {
		f := frags[i]
		if n > 0 {
			tol := r.cfg.LineTolerance * math.Min(anchor.FontSize, f.FontSize)
			if math.Abs(f.centerY()-anchor.centerY()) < tol {
				last := &bands[len(bands)-1]
				last.frags = append(last.frags, f)
				continue
			}
		}
		anchor = f
		bands = append(bands, band{frags: []TextFragment{f}})
	}

	for i := range bands {
		sort.SliceStable(bands[i].frags, func(a, b int) bool {
			return bands[i].frags[a].X < bands[i].frags[b].X
		})
	}
	return bands
}

func (r *LayoutReconstructor) wideGaps(b band) []gap {
	var gaps []gap
	edge := b.frags[0].right()
	for _, f := range b.frags[1:] {
		if f.X-edge >= r.cfg.ColumnGapThreshold {
			gaps = append(gaps, gap{left: edge, right: f.X})
		}
		edge = math.Max(edge, f.right())
	}
	return gaps
}

// columnBoundary picks the x position of the gutter shared by the most bands. A candidate is
// rejected when fewer than ColumnMinBands bands open a gap there, or when text crosses it in
// more than a quarter as many bands as support it, which is how tabular option rows inside a
// single-column page look.
func (r *LayoutReconstructor) columnBoundary(bands []band) (float64, bool) {
	perBand := make([][]gap, len(bands))
	var candidates []float64
	for i, b := range bands {
		perBand[i] = r.wideGaps(b)
		for _, g := range perBand[i] {
			candidates = append(candidates, (g.left+g.right)/2)
		}
	}
	if len(candidates) == 0 {
		return 0, false
	}
	sort.Float64s(candidates)

	best, bestSupport := 0.0, 0
	for _, c := range candidates {
		support := 0
		for _, gaps := range perBand {
			for _, g := range gaps {
				if g.contains(c) {
					support++
					break
				}
			}
		}
		if support > bestSupport {
			best, bestSupport = c, support
		}
	}

	if bestSupport < r.cfg.ColumnMinBands {
		return 0, false
	}

	crossing := 0
	for _, b := range bands {
		for _, f := range b.frags {
			if f.X < best && f.right() > best {
				crossing++
				break
			}
		}
	}
	if crossing*4 > bestSupport {
		return 0, false
	}
	return best, true
}

func (r *LayoutReconstructor) buildLine(page, column int, frags []TextFragment) Line {
	var sb strings.Builder
	for i, f := range frags {
		if i > 0 {
			prev := frags[i-1]
			if f.X-prev.right() > r.cfg.WordGapRatio*math.Min(prev.FontSize, f.FontSize) {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(f.Content)
	}

	y := frags[0].Y
	for _, f := range frags[1:] {
		y = math.Max(y, f.Y)
	}

	return Line{
		Page:      page,
		Column:    column,
		Text:      collapseSpaces(sb.String()),
		Y:         y,
		Fragments: frags,
	}
}

// collapseSpaces trims s and folds every whitespace run into one space.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
