package agent

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseResponse_Kinds(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		kind  Kind
		body  string
		tag   Tag
	}{
		{"empty", "  \n ", KindEmpty, "", TagNone},
		{"plain text", "Here is how that works.", KindText, "", TagNone},
		{"question", "Which directory? [QUESTION]", KindText, "", TagQuestion},
		{"complete lower", "All done. [complete]  \n", KindText, "", TagComplete},
		{"command", "Listing:\n```command\nls -la\n```\n", KindCommand, "ls -la", TagNone},
		{"command inline spacing", "```command   df -h   ```", KindCommand, "df -h", TagNone},
		{"search", "```websearch\nhow to install helix on arch?\n```", KindSearch, "how to install helix on arch?", TagNone},
		{"prune", "Cleaning up.\n```context_prune\nids: 1, 2\n```", KindPrune, "ids: 1, 2", TagNone},
		{"untruncate", "```context_untruncate\nid: 4\n```", KindUntruncate, "id: 4", TagNone},
		{"code fence is not an action", "```bash\nrm -rf /\n```", KindText, "", TagNone},
		{"two commands", "```command\nls\n```\n```command\npwd\n```", KindMultiple, "", TagNone},
		{"command and search", "```command\nls\n```\n```websearch\nq\n```", KindMultiple, "", TagNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParseResponse(tt.reply)
			if p.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", p.Kind, tt.kind)
			}
			if p.Body != tt.body {
				t.Errorf("Body = %q, want %q", p.Body, tt.body)
			}
			if p.Tag != tt.tag {
				t.Errorf("Tag = %v, want %v", p.Tag, tt.tag)
			}
		})
	}
}

func TestParseResponse_TagRemovedFromText(t *testing.T) {
	p := ParseResponse("nginx is running on port 80. [COMPLETE]")
	if p.Text != "nginx is running on port 80." {
		t.Errorf("Text = %q", p.Text)
	}

	p = ParseResponse("[COMPLETE] is only a tag at the end")
	if p.Tag != TagNone {
		t.Error("a tag in the middle should not count")
	}
}

func TestParseResponse_MultipleCountsActions(t *testing.T) {
	reply := "```command\nls\n```\n```command\npwd\n```\n```context_prune\nid: 1\n```"
	p := ParseResponse(reply)
	if p.Kind != KindMultiple || p.Actions != 3 {
		t.Errorf("got kind %v with %d actions", p.Kind, p.Actions)
	}
}

func TestParseResponse_Distill(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		id      int
		summary string
		invalid bool
	}{
		{"single line", "id: 3\nsummary: nginx 1.24 installed", 3, "nginx 1.24 installed", false},
		{"continuation", "id: 7\nsummary: three server blocks\nports 80, 443\nand 8080", 7, "three server blocks\nports 80, 443\nand 8080", false},
		{"upper keys", "ID: 2\nSummary: ok", 2, "ok", false},
		{"missing id", "summary: something", 0, "something", true},
		{"missing summary", "id: 4", 4, "", true},
		{"bad id", "id: four\nsummary: x", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParseResponse("Distilling.\n```context_distill\n" + tt.body + "\n```")
			if p.Kind != KindDistill {
				t.Fatalf("Kind = %v", p.Kind)
			}
			if p.Invalid != tt.invalid {
				t.Errorf("Invalid = %v, want %v", p.Invalid, tt.invalid)
			}
			if tt.invalid {
				return
			}
			if p.ID != tt.id || p.Summary != tt.summary {
				t.Errorf("got id %d summary %q", p.ID, p.Summary)
			}
		})
	}
}

func TestParseResponse_Prune(t *testing.T) {
	tests := []struct {
		body    string
		ids     []int
		invalid bool
	}{
		{"ids: 1, 2, 3", []int{1, 2, 3}, false},
		{"ids: 5,", []int{5}, false},
		{"id: 9", []int{9}, false},
		{"ids: 1, two", nil, true},
		{"ids:", nil, true},
		{"nothing useful", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			p := ParseResponse("```context_prune\n" + tt.body + "\n```")
			if p.Invalid != tt.invalid {
				t.Errorf("Invalid = %v, want %v", p.Invalid, tt.invalid)
			}
			if !tt.invalid && !reflect.DeepEqual(p.IDs, tt.ids) {
				t.Errorf("IDs = %v, want %v", p.IDs, tt.ids)
			}
		})
	}
}

func TestParseResponse_UntruncateInvalid(t *testing.T) {
	p := ParseResponse("```context_untruncate\nwhich one?\n```")
	if p.Kind != KindUntruncate || !p.Invalid {
		t.Errorf("expected invalid untruncate, got %+v", p)
	}
}

func TestStripBlocks(t *testing.T) {
	got := StripBlocks("Let me check.\n\n```command\nls\n```\n\nThis lists files. [QUESTION]")
	if strings.Contains(got, "```") || strings.Contains(got, "[QUESTION]") {
		t.Errorf("blocks or tag left: %q", got)
	}
	if !strings.HasPrefix(got, "Let me check.") || !strings.HasSuffix(got, "This lists files.") {
		t.Errorf("prose lost: %q", got)
	}
}

func TestKindString(t *testing.T) {
	if KindDistill.String() != "context_distill" || KindSearch.String() != "websearch" || Kind(42).String() != "unknown" {
		t.Error("unexpected Kind names")
	}
}
