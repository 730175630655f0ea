package analysis

import "testing"

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		summary string
		points  int
	}{
		{"plain", `{"summary":"直接","key_points":["a","b"]}`, "直接", 2},
		{"fenced", "好的：\n```json\n{\"summary\":\"代码块\",\"key_points\":[\"a\"]}\n```\n", "代码块", 1},
		{"embedded", `结果如下 {"summary":"内嵌","keywords":"x, y"} 谢谢`, "内嵌", 0},
		{"string points", `{"summary":"s","key_points":"一、二、三"}`, "s", 3},
		{"object points", `{"summary":"s","key_points":[{"point":"p1"},{"text":"p2"}]}`, "s", 2},
	}
	for _, tt := range tests {
		a := ParseResponse(tt.raw)
		if a.ParseError {
			t.Errorf("%s: unexpected parse error", tt.name)
			continue
		}
		if a.Summary != tt.summary {
			t.Errorf("%s: expected summary %q, got %q", tt.name, tt.summary, a.Summary)
		}
		if len(a.KeyPoints) != tt.points {
			t.Errorf("%s: expected %d key points, got %v", tt.name, tt.points, a.KeyPoints)
		}
	}
}

func TestParseResponseKeywordsFromString(t *testing.T) {
	a := ParseResponse(`{"summary":"s","keywords":"Go，并发, 调度"}`)
	if len(a.Keywords) != 3 {
		t.Errorf("Expected 3 keywords, got %v", a.Keywords)
	}
}

func TestParseResponseDegraded(t *testing.T) {
	a := ParseResponse("not json at all")
	if !a.ParseError || a.Summary != "not json at all" {
		t.Errorf("Expected degraded result with raw text, got %+v", a)
	}
	if a.KeyPoints == nil || a.Keywords == nil {
		t.Errorf("Expected empty lists rather than nil")
	}
}

func TestParseResponseKeepsFieldsAroundMisshapedStructure(t *testing.T) {
	a := ParseResponse(`{"summary":"有效摘要","key_points":["a"],"structure":{"type":"教程","sections":"概述"}}`)
	if a.ParseError {
		t.Fatalf("Expected misshaped structure to be tolerated, got parse error: %+v", a)
	}
	if a.Summary != "有效摘要" || len(a.KeyPoints) != 1 {
		t.Errorf("Expected summary and key points kept, got %+v", a)
	}
	if a.Structure.Type != "教程" || len(a.Structure.Sections) != 1 || a.Structure.Sections[0].Heading != "概述" {
		t.Errorf("Expected one section 概述, got %+v", a.Structure)
	}
}

func TestParseResponseNonObjectIsDegraded(t *testing.T) {
	for _, raw := range []string{"null", `["a","b"]`, `"just a string"`} {
		if a := ParseResponse(raw); !a.ParseError {
			t.Errorf("%s: expected parse error for non-object response, got %+v", raw, a)
		}
	}
}
