package classify

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// keywordTable is the immutable category → keyword mapping. Keywords are
// stored pre-tokenized; multi-word keywords become token sequences.
// terms is the union of the technical vocabulary and every single-token
// category keyword, for term extraction.
type keywordTable struct {
	order     []string
	keywords  map[string][][]string
	technical map[string]struct{}
	terms     map[string]struct{}
}

// buildTerms derives the term-extraction set. Multi-token keywords are left
// out: a mention edge carries one token.
func (t *keywordTable) buildTerms() {
	t.terms = make(map[string]struct{}, len(t.technical))
	for w := range t.technical {
		t.terms[w] = struct{}{}
	}
	for _, kws := range t.keywords {
		for _, kw := range kws {
			if len(kw) == 1 {
				t.terms[kw[0]] = struct{}{}
			}
		}
	}
}

// defaultCategories declares the built-in keyword sets. Slice order is the
// documented tie-break priority.
var defaultCategories = []struct {
	name     string
	keywords []string
}{
	{"software", []string{
		"python", "java", "c++", "c#", "go", "golang", "rust", "ruby", "php",
		"programming", "algorithm", "code", "git", "compiler", "script",
		"pandas", "numpy", "library",
	}},
	{"web", []string{
		"html", "css", "javascript", "typescript", "react", "angular", "vue",
		"nodejs", "node", "express", "frontend", "backend", "website",
		"webpack", "browser",
	}},
	{"mobile", []string{
		"android", "ios", "react native", "flutter", "swift", "kotlin", "apk",
	}},
	{"database", []string{
		"mysql", "postgresql", "postgres", "mongodb", "sqlite", "sql",
		"redis", "database", "db", "query",
	}},
	{"devops", []string{
		"docker", "kubernetes", "aws", "azure", "gcp", "cloud", "deployment",
		"deploy", "jenkins", "terraform", "heroku", "container", "ci/cd",
	}},
	{"hardware", []string{
		"cpu", "gpu", "ram", "memory", "hardware", "motherboard", "laptop",
		"overheating", "fan", "battery", "ssd", "disk", "bios",
	}},
	{"networking", []string{
		"network", "networking", "wifi", "dns", "vpn", "router",
		"connectivity", "ethernet", "protocol", "firewall",
	}},
	{"security", []string{
		"security", "authentication", "auth", "encryption", "vulnerability",
		"password", "phishing", "malware", "certificate",
	}},
}

// defaultTechnical are tokens that mark a report as technical even when no
// category keyword matched.
var defaultTechnical = []string{
	"error", "crash", "bug", "fail", "broken", "timeout", "exception",
	"install", "setup", "configure", "build", "compile", "debug",
	"server", "software", "computer", "linux", "windows", "ubuntu", "api",
}

func defaultTable() *keywordTable {
	t := &keywordTable{
		keywords:  make(map[string][][]string, len(defaultCategories)),
		technical: make(map[string]struct{}, len(defaultTechnical)),
	}
	for _, c := range defaultCategories {
		t.order = append(t.order, c.name)
		t.keywords[c.name] = tokenizeKeywords(c.keywords)
	}
	for _, w := range defaultTechnical {
		t.technical[w] = struct{}{}
	}
	t.buildTerms()
	return t
}

// fileConfig is the YAML shape for keyword overrides.
type fileConfig struct {
	Categories []struct {
		Name     string   `yaml:"name"`
		Keywords []string `yaml:"keywords"`
	} `yaml:"categories"`
	Technical []string `yaml:"technical"`
}

// loadTable reads a keyword table from a YAML file.
func loadTable(path string) (*keywordTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("classify: read keywords %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("classify: parse keywords %s: %w", path, err)
	}
	if len(cfg.Categories) == 0 {
		return nil, fmt.Errorf("classify: %s declares no categories", path)
	}

	t := &keywordTable{
		keywords:  make(map[string][][]string, len(cfg.Categories)),
		technical: make(map[string]struct{}, len(cfg.Technical)),
	}
	for _, c := range cfg.Categories {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || name == CategoryOther {
			return nil, fmt.Errorf("classify: invalid category name %q", c.Name)
		}
		if _, dup := t.keywords[name]; dup {
			return nil, fmt.Errorf("classify: duplicate category %q", name)
		}
		t.order = append(t.order, name)
		t.keywords[name] = tokenizeKeywords(c.Keywords)
	}
	for _, w := range cfg.Technical {
		for _, tok := range Tokenize(w) {
			t.technical[tok] = struct{}{}
		}
	}
	t.buildTerms()
	return t, nil
}

func tokenizeKeywords(words []string) [][]string {
	out := make([][]string, 0, len(words))
	for _, w := range words {
		if toks := Tokenize(w); len(toks) > 0 {
			out = append(out, toks)
		}
	}
	return out
}
