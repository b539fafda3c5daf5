package main

import (
	"strings"
	"testing"
)

func TestSanitizeForXHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains []string
		excludes []string
	}{
		{
			"void elements self-close",
			`<p>line one<br>line two</p><hr>`,
			[]string{"<br/>", "<hr/>"},
			nil,
		},
		{
			"disallowed attributes stripped",
			`<p onclick="evil()" data-track="1" class="keep">text</p>`,
			[]string{`class="keep"`},
			[]string{"onclick", "data-track"},
		},
		{
			"disallowed elements removed",
			`<p>before</p><iframe src="https://x.example"></iframe><p>after</p>`,
			[]string{"<p>before</p>", "<p>after</p>"},
			[]string{"iframe"},
		},
		{
			"broken fragment link dropped",
			`<a href="#nowhere">dead</a><a href="#real">live</a><p id="real">target</p>`,
			[]string{`href="#real"`},
			[]string{`href="#nowhere"`},
		},
		{
			"external images removed",
			`<img src="https://mises.org/leftover.png" alt="x"/><img src="../images/kept.png" alt="y"/>`,
			[]string{"kept.png"},
			[]string{"leftover.png"},
		},
		{
			"dimension units normalized",
			`<img src="../images/a.png" width="600px" height="33.7"/>`,
			[]string{`width="600"`, `height="34"`},
			[]string{"600px"},
		},
		{
			"dimensions stripped off non-dimension elements",
			`<p width="100">text</p>`,
			[]string{"<p>text</p>"},
			[]string{`width="100"`},
		},
		{
			"video becomes link",
			`<video src="https://cdn.example/clip.mp4"></video>`,
			[]string{`<a href="https://cdn.example/clip.mp4">`, "[Media:"},
			[]string{"<video"},
		},
		{
			"picture collapses to img",
			`<picture><source srcset="a.webp"><img src="../images/pic.png" alt="p"></picture>`,
			[]string{`src="../images/pic.png"`},
			[]string{"<picture", "<source"},
		},
		{
			"invalid xml chars stripped",
			"<p>bad\u0012char</p>",
			[]string{"<p>badchar</p>"},
			nil,
		},
		{
			"block inside phrasing unwrapped",
			`<a href="#x"><div>inner</div></a><p id="x">t</p>`,
			[]string{"inner"},
			[]string{"<a href=\"#x\"><div>"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeForXHTML(tt.input)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("output missing %q:\n%s", want, got)
				}
			}
			for _, bad := range tt.excludes {
				if strings.Contains(got, bad) {
					t.Errorf("output still contains %q:\n%s", bad, got)
				}
			}
		})
	}
}

func TestSanitizeForXHTML_DuplicateIDs(t *testing.T) {
	got := sanitizeForXHTML(`<p id="x">one</p><p id="x">two</p>`)
	if strings.Count(got, `id="x"`) != 1 {
		t.Errorf("duplicate id not renamed:\n%s", got)
	}
	if !strings.Contains(got, `id="x-2"`) {
		t.Errorf("renamed id missing:\n%s", got)
	}
}

func TestSanitizeForXHTML_FigcaptionOutsideFigure(t *testing.T) {
	got := sanitizeForXHTML(`<figcaption>loose caption</figcaption>`)
	if strings.Contains(got, "figcaption") {
		t.Errorf("loose figcaption survived:\n%s", got)
	}
	if !strings.Contains(got, "<p>loose caption</p>") {
		t.Errorf("caption not converted to paragraph:\n%s", got)
	}
}

func TestCleanDimension(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"600", "600"},
		{"600px", "600"},
		{"33.7", "34"},
		{"2em", "2"},
		{"-5", ""},
		{"0", ""},
		{"auto", ""},
	}
	for _, tt := range tests {
		if got := cleanDimension(tt.input); got != tt.want {
			t.Errorf("cleanDimension(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
