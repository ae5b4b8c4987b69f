package llm

import "testing"

func TestStripMarkdownFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain JSON unchanged",
			input: `{"overall_score": 80, "feedback": "ok"}`,
			want:  `{"overall_score": 80, "feedback": "ok"}`,
		},
		{
			name:  "fenced json block",
			input: "```json\n{\"overall_score\": 80}\n```",
			want:  `{"overall_score": 80}`,
		},
		{
			name:  "fenced without language",
			input: "```\n{\"overall_score\": 80}\n```",
			want:  `{"overall_score": 80}`,
		},
		{
			name:  "fenced with whitespace",
			input: "  ```json\n{\"key\": \"value\"}\n```  ",
			want:  `{"key": "value"}`,
		},
		{
			name:  "multiline JSON in fences",
			input: "```json\n{\n  \"overall_score\": 80,\n  \"feedback\": \"ok\"\n}\n```",
			want:  "{\n  \"overall_score\": 80,\n  \"feedback\": \"ok\"\n}",
		},
		{
			name:  "empty string",
			input: "",
			want:  "",
		},
		{
			name:  "only fences no content",
			input: "```json\n```",
			want:  "",
		},
		{
			name:  "single line fence",
			input: "```",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StripMarkdownFences(tt.input)
			if got != tt.want {
				t.Errorf("StripMarkdownFences(%q) =\n  %q\nwant:\n  %q", tt.input, got, tt.want)
			}
		})
	}
}
