// Package skills implements the skill and slash-command router (C9): it
// loads SKILL.md files from tiered directories, derives a sanitized
// command alias for each, and dispatches "/name" and "/skill name" input
// to the matching skill.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Tier identifies which directory layer a skill was loaded from.
type Tier string

const (
	TierGlobal    Tier = "global"
	TierManaged   Tier = "managed"
	TierWorkspace Tier = "workspace"
)

// Skill is one loaded SKILL.md, plus the derived command alias.
type Skill struct {
	Name                   string
	Description            string
	UserInvocable          bool
	DisableModelInvocation bool
	Location               string
	Tier                   Tier
	CommandName            string
}

// frontMatter is the YAML-ish header a SKILL.md file may open with,
// delimited by "---" lines.
type frontMatter struct {
	Name                   string `yaml:"name"`
	Description            string `yaml:"description"`
	UserInvocable          *bool  `yaml:"user-invocable"`
	DisableModelInvocation *bool  `yaml:"disable-model-invocation"`
}

// Loader discovers SKILL.md files across the three tiers, in
// lowest-to-highest precedence order: global, managed, workspace. A
// skill name collision is resolved by the later (higher-precedence)
// tier overwriting the earlier one, matching how the teacher's plugin
// discovery layers builtin/workspace/extra directories.
type Loader struct {
	GlobalDir    string
	ManagedDir   string
	WorkspaceDir string
	logger       zerolog.Logger
}

// NewLoader builds a Loader over the three tier directories. Any of them
// may be empty, meaning that tier contributes no skills.
func NewLoader(globalDir, managedDir, workspaceDir string, logger zerolog.Logger) *Loader {
	return &Loader{
		GlobalDir:    globalDir,
		ManagedDir:   managedDir,
		WorkspaceDir: workspaceDir,
		logger:       logger.With().Str("component", "skills").Logger(),
	}
}

// Load scans all three tiers and returns the merged, deduplicated skill
// set with unique command aliases assigned.
func (l *Loader) Load() ([]Skill, error) {
	byName := make(map[string]Skill)

	for _, tier := range []struct {
		dir string
		t   Tier
	}{
		{l.GlobalDir, TierGlobal},
		{l.ManagedDir, TierManaged},
		{l.WorkspaceDir, TierWorkspace},
	} {
		if tier.dir == "" {
			continue
		}
		found, err := l.scanDir(tier.dir, tier.t)
		if err != nil {
			l.logger.Warn().Err(err).Str("dir", tier.dir).Msg("skills: failed to scan tier directory")
			continue
		}
		for _, s := range found {
			byName[s.Name] = s // later tier wins on collision
		}
	}

	skills := make([]Skill, 0, len(byName))
	for _, s := range byName {
		skills = append(skills, s)
	}

	assignCommandNames(skills)
	return skills, nil
}

func (l *Loader) scanDir(dir string, tier Tier) ([]Skill, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var skills []Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillPath := filepath.Join(dir, entry.Name(), "SKILL.md")
		if _, err := os.Stat(skillPath); err != nil {
			continue
		}

		skill, err := l.loadSkillFile(skillPath, entry.Name(), tier)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", skillPath).Msg("skills: skipping invalid SKILL.md")
			continue
		}
		if skill == nil {
			continue
		}
		skills = append(skills, *skill)
	}
	return skills, nil
}

func (l *Loader) loadSkillFile(path, parentDirName string, tier Tier) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	fm, err := parseFrontMatter(string(data))
	if err != nil {
		return nil, err
	}

	if fm.Description == "" {
		// description is required; a skill without one is silently skipped.
		return nil, nil
	}

	name := fm.Name
	if name == "" {
		name = parentDirName
	}

	userInvocable := true
	if fm.UserInvocable != nil {
		userInvocable = *fm.UserInvocable
	}

	disableModel := false
	if fm.DisableModelInvocation != nil {
		disableModel = *fm.DisableModelInvocation
	}

	return &Skill{
		Name:                   name,
		Description:            fm.Description,
		UserInvocable:          userInvocable,
		DisableModelInvocation: disableModel,
		Location:               path,
		Tier:                   tier,
	}, nil
}

var frontMatterDelim = regexp.MustCompile(`(?s)^---\r?\n(.*?)\r?\n---\r?\n?`)

// parseFrontMatter extracts the leading "---"-delimited YAML block. A
// file with no front matter yields a zero-value frontMatter (skipped
// upstream for missing description).
func parseFrontMatter(content string) (frontMatter, error) {
	var fm frontMatter
	match := frontMatterDelim.FindStringSubmatch(content)
	if match == nil {
		return fm, nil
	}
	if err := yaml.Unmarshal([]byte(match[1]), &fm); err != nil {
		return fm, fmt.Errorf("failed to parse front matter: %w", err)
	}
	return fm, nil
}

// InvocableByModel returns skills eligible for the system prompt's
// Skills block (used to build SkillInfo entries): those not marked
// disable-model-invocation.
func InvocableByModel(skills []Skill) []Skill {
	var out []Skill
	for _, s := range skills {
		if !s.DisableModelInvocation {
			out = append(out, s)
		}
	}
	return out
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)
var repeatedUnderscore = regexp.MustCompile(`_+`)

// sanitizeCommandName lowercases name, replaces every run of
// non-alphanumeric characters with a single underscore, strips leading
// and trailing underscores, and truncates to 32 characters. An empty
// result falls back to "skill".
func sanitizeCommandName(name string) string {
	lower := strings.ToLower(name)
	replaced := nonAlphanumeric.ReplaceAllString(lower, "_")
	collapsed := repeatedUnderscore.ReplaceAllString(replaced, "_")
	trimmed := strings.Trim(collapsed, "_")
	if len(trimmed) > 32 {
		trimmed = trimmed[:32]
	}
	if trimmed == "" {
		return "skill"
	}
	return trimmed
}

// assignCommandNames derives each skill's CommandName in place,
// deduplicating collisions with a "_2", "_3", ... suffix. Order is not
// significant to the result's correctness, but callers get a
// deterministic run by sorting skills by Name first.
func assignCommandNames(skills []Skill) {
	seen := make(map[string]int)
	for i := range skills {
		base := sanitizeCommandName(skills[i].Name)
		count := seen[base]
		seen[base] = count + 1

		if count == 0 {
			skills[i].CommandName = base
			continue
		}
		skills[i].CommandName = fmt.Sprintf("%s_%d", base, count+1)
	}
}
