package cloudsync

import (
	"os"

	"gopkg.in/yaml.v3"
)

// defaultDays bounds the sync candidate window when no rules file exists.
const defaultDays = 30

// Rules selects which sessions are sync candidates. Stored as YAML at
// ~/.devark/sync.yaml.
type Rules struct {
	// Projects is a workspace-name allowlist. Empty means all projects.
	Projects []string `yaml:"projects"`
	// Days limits candidates to sessions active in the last N days.
	Days int `yaml:"days"`
}

// DefaultRules returns the rules used when no file is present.
func DefaultRules() Rules {
	return Rules{Days: defaultDays}
}

// LoadRules reads the rules file. A missing file yields the defaults; a
// malformed file is an error so a typo never silently syncs everything.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultRules(), nil
	}
	if err != nil {
		return Rules{}, err
	}

	rules := DefaultRules()
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, err
	}
	if rules.Days <= 0 {
		rules.Days = defaultDays
	}
	return rules, nil
}

// allowsProject reports whether a workspace name passes the allowlist.
func (r Rules) allowsProject(name string) bool {
	if len(r.Projects) == 0 {
		return true
	}
	for _, p := range r.Projects {
		if p == name {
			return true
		}
	}
	return false
}
