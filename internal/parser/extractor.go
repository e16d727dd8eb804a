package parser

import (
	"sort"
	"strings"

	"github.com/sokinpui/askpatch/internal/patcher"
	"github.com/sokinpui/askpatch/internal/ui"
	"github.com/sokinpui/askpatch/model"
)

const (
	scoreGitHeader   = 5
	scoreHunkHeader  = 3
	scoreStartsGit   = 2
	scoreLongBody    = 1
	scoreRepairBonus = 3
	longBodyChars    = 200
)

// Extract finds the best unified diff in an assistant answer. It never fails:
// the absence of a diff is reported through Extraction.Reason.
func Extract(markdown string) (ex model.Extraction) {
	defer func() {
		if r := recover(); r != nil {
			ui.Warning("diff extraction aborted: %v", r)
			ex = model.Extraction{Reason: model.ExtractNoScoredBlocks}
		}
	}()

	markdown = strings.ReplaceAll(markdown, "\r\n", "\n")
	dangling, openLine := danglingFence(markdown)
	ex.PartialFence = dangling

	blocks, err := ExtractCodeBlocks([]byte(markdown))
	if err != nil {
		ui.Warning("markdown walk failed: %v", err)
		blocks = nil
	}
	if dangling {
		blocks = dropBlockAt(blocks, openLine)
	}

	if len(blocks) == 0 {
		if body, ok := patcher.NormalizeBeginPatch(markdown); ok {
			c := model.DiffCandidate{
				Body:   body,
				Score:  Score(body),
				Origin: model.OriginNormalizedBeginPatch,
			}
			ex.Candidates = []model.DiffCandidate{c}
			ex.Selected = &ex.Candidates[0]
			ex.Reason = model.ExtractSelected
			return ex
		}
		if dangling {
			ex.Reason = model.ExtractPartialFence
		} else {
			ex.Reason = model.ExtractNoFencedBlocks
		}
		return ex
	}

	ex.Candidates = make([]model.DiffCandidate, 0, len(blocks))
	for _, b := range blocks {
		ex.Candidates = append(ex.Candidates, model.DiffCandidate{
			Body:   b.Content,
			Score:  Score(b.Content),
			Origin: model.OriginFencedBlock,
			Lang:   b.Lang,
		})
	}
	sort.SliceStable(ex.Candidates, func(i, j int) bool {
		return ex.Candidates[i].Score > ex.Candidates[j].Score
	})

	top := &ex.Candidates[0]
	if !hasHeaderAndHunk(top.Body) {
		repaired, ok := patcher.Normalize(top.Body)
		if ok && hasHeaderAndHunk(repaired) && patcher.CoversPaths(top.Body, repaired) {
			top.Body = repaired
			top.Score += scoreRepairBonus
			top.Origin = model.OriginRepairedBlock
		}
	}

	if top.Score > 0 && hasHeaderAndHunk(top.Body) {
		ex.Selected = top
		ex.Reason = model.ExtractSelected
		return ex
	}
	ex.Reason = model.ExtractNoScoredBlocks
	return ex
}

// Score rates how much a block looks like a git unified diff.
func Score(body string) int {
	score := 0
	if patcher.HasGitHeader(body) {
		score += scoreGitHeader
	}
	if patcher.HasHunkHeader(body) {
		score += scoreHunkHeader
	}
	if strings.HasPrefix(strings.TrimSpace(body), "diff --git") {
		score += scoreStartsGit
	}
	if len(body) > longBodyChars {
		score += scoreLongBody
	}
	return score
}

func hasHeaderAndHunk(body string) bool {
	return patcher.HasGitHeader(body) && patcher.HasHunkHeader(body)
}

// dropBlockAt removes the block opened at line; that block was cut off
// mid-answer and only its prefix is known. An empty fence with no info string
// has no known line; being unclosed, it is the last block.
func dropBlockAt(blocks []CodeBlock, line int) []CodeBlock {
	out := blocks[:0:0]
	for _, b := range blocks {
		if b.Line == line {
			continue
		}
		out = append(out, b)
	}
	if len(out) == len(blocks) && len(out) > 0 {
		if last := out[len(out)-1]; last.Line == 0 && last.Content == "" {
			out = out[:len(out)-1]
		}
	}
	return out
}
