package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"hive/internal/domain"
)

// StatusFile is the per-project file the Dir adapter reads.
const StatusFile = "AGENCY.md"

// Dir reads records from `projects/<name>/AGENCY.md` frontmatter files
// under Root. Only the YAML between the leading `---` fences is parsed;
// the markdown body is ignored. Malformed files become Issues, never
// errors.
type Dir struct {
	Root string
}

type frontmatter struct {
	ProjectID      string   `yaml:"project_id"`
	Status         string   `yaml:"status"`
	Owner          string   `yaml:"owner"`
	Blocked        bool     `yaml:"blocked"`
	BlockingReason string   `yaml:"blocking_reason"`
	Priority       string   `yaml:"priority"`
	Tags           []string `yaml:"tags"`
	LastUpdated    string   `yaml:"last_updated"`
	Dependencies   struct {
		BlockedBy []string `yaml:"blocked_by"`
		Blocks    []string `yaml:"blocks"`
		Parent    string   `yaml:"parent"`
		Related   []string `yaml:"related"`
	} `yaml:"dependencies"`
}

func (d Dir) Snapshot(ctx context.Context) (Snapshot, error) {
	root := filepath.Join(d.Root, "projects")
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return newSnapshot(nil, nil), nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read projects dir: %w", err)
	}
	var (
		records []domain.Record
		issues  []Issue
	)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name(), StatusFile)
		raw, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			issues = append(issues, Issue{Source: path, Message: err.Error()})
			continue
		}
		rec, recIssues := parseFrontmatter(path, raw)
		issues = append(issues, recIssues...)
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return newSnapshot(records, issues), nil
}

func parseFrontmatter(path string, raw []byte) (*domain.Record, []Issue) {
	body, ok := frontmatterBlock(raw)
	if !ok {
		return nil, []Issue{{Source: path, Message: "no frontmatter block"}}
	}
	var fm frontmatter
	if err := yaml.Unmarshal(body, &fm); err != nil {
		return nil, []Issue{{Source: path, Message: fmt.Sprintf("parse frontmatter: %v", err)}}
	}
	if fm.ProjectID == "" {
		return nil, []Issue{{Source: path, Field: "project_id", Message: "missing project_id"}}
	}
	if fm.Status == "" {
		return nil, []Issue{{Source: path, RecordID: fm.ProjectID, Field: "status", Message: "missing status"}}
	}
	if fm.Priority == "" {
		fm.Priority = string(domain.PriorityMedium)
	}
	rec := domain.Record{
		ID:             fm.ProjectID,
		Status:         domain.Status(fm.Status),
		Blocked:        fm.Blocked,
		BlockingReason: fm.BlockingReason,
		Priority:       domain.Priority(fm.Priority),
		Tags:           fm.Tags,
		LastModified:   fm.LastUpdated,
	}
	if fm.Owner != "" {
		rec.Owner = &fm.Owner
	}
	rec.Dependencies.BlockedBy = fm.Dependencies.BlockedBy
	rec.Dependencies.Blocks = fm.Dependencies.Blocks
	rec.Dependencies.Related = fm.Dependencies.Related
	if fm.Dependencies.Parent != "" {
		rec.Dependencies.Parent = &fm.Dependencies.Parent
	}
	issues, usable := checkRecord(path, rec)
	if !usable {
		return nil, issues
	}
	return &rec, issues
}

// frontmatterBlock extracts the YAML between the opening and closing
// `---` fences. The opening fence must be the first line of the file.
func frontmatterBlock(raw []byte) ([]byte, bool) {
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	if !strings.HasPrefix(text, "---\n") {
		return nil, false
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, false
	}
	return []byte(rest[:end]), true
}
