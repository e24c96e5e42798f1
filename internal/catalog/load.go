package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const schemaURL = "roomquest://taskchains.schema.json"

const taskchainsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["chains"],
  "properties": {
    "replace_builtin": {"type": "boolean"},
    "aliases": {"type": "object", "additionalProperties": {"type": "string", "minLength": 1}},
    "chains": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name", "tasks"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "description": {"type": "string"},
          "start": {"type": "string"},
          "end": {"type": "string"},
          "tasks": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["id", "event", "required"],
              "properties": {
                "id": {"type": "integer"},
                "name": {"type": "string"},
                "description": {"type": "string"},
                "event": {"enum": ["KILL_MONSTERS", "COLLECT_ITEMS", "REACH_LEVEL", "COMPLETE_QUESTS", "JOIN_CHAT_ROOM", "SEND_MESSAGES"]},
                "required": {"type": "integer", "minimum": 1},
                "target_id": {"type": "string"},
                "rewards": {"$ref": "#/definitions/rewards"}
              }
            }
          },
          "final_rewards": {"$ref": "#/definitions/rewards"}
        }
      }
    }
  },
  "definitions": {
    "rewards": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind"],
        "properties": {
          "kind": {"type": "string", "minLength": 1},
          "amount": {"type": "integer"},
          "item_id": {"type": "string"},
          "title": {"type": "string"},
          "description": {"type": "string"}
        }
      }
    }
  }
}`

type fileDoc struct {
	ReplaceBuiltin bool              `yaml:"replace_builtin"`
	Aliases        map[string]string `yaml:"aliases"`
	Chains         []fileChain       `yaml:"chains"`
}

type fileChain struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Start        string   `yaml:"start"`
	End          string   `yaml:"end"`
	Tasks        []Task   `yaml:"tasks"`
	FinalRewards []Reward `yaml:"final_rewards"`
}

var compiledSchema = jsonschema.MustCompileString(schemaURL, taskchainsSchema)

// Load reads a taskchains.yaml file on top of the built-in catalog.
// An empty path or a missing file yields the built-ins unchanged.
func Load(path string, now func() time.Time) (*Catalog, error) {
	c := Builtin(now)
	if strings.TrimSpace(path) == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	return Parse(raw, now)
}

// Parse validates raw YAML against the taskchains schema and merges it into the built-ins.
func Parse(raw []byte, now func() time.Time) (*Catalog, error) {
	if err := validate(raw); err != nil {
		return nil, fmt.Errorf("taskchains.yaml: %w", err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("taskchains.yaml: %w", err)
	}

	c := Builtin(now)
	if doc.ReplaceBuiltin {
		c = newCatalog(now)
	}
	t := c.now()
	for _, fc := range doc.Chains {
		ch := Chain{
			ID:           fc.ID,
			Name:         fc.Name,
			Description:  fc.Description,
			Tasks:        fc.Tasks,
			FinalRewards: fc.FinalRewards,
			Start:        t,
		}
		if fc.Start != "" {
			st, err := parseWindowBound(fc.Start, t)
			if err != nil {
				return nil, fmt.Errorf("taskchains.yaml: chain %s start: %w", fc.ID, err)
			}
			ch.Start = st
		}
		if fc.End != "" {
			et, err := parseWindowBound(fc.End, t)
			if err != nil {
				return nil, fmt.Errorf("taskchains.yaml: chain %s end: %w", fc.ID, err)
			}
			ch.End = &et
		}
		seen := map[int]bool{}
		for _, task := range ch.Tasks {
			if seen[task.ID] {
				return nil, fmt.Errorf("taskchains.yaml: chain %s: duplicate task id %d", fc.ID, task.ID)
			}
			seen[task.ID] = true
		}
		c.add(ch)
	}
	for alias, target := range doc.Aliases {
		c.aliases[alias] = target
	}
	return c, nil
}

// parseWindowBound accepts RFC3339 timestamps or a duration relative to load time ("-720h").
func parseWindowBound(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC3339 time or duration, got %q", s)
	}
	return now.Add(d), nil
}

// validate converts YAML into JSON-compatible values before schema validation.
func validate(raw []byte) error {
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	return compiledSchema.Validate(doc)
}
