package listen

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/c43892/storyteller/internal/errors"
)

// CommandSpec is one voice command in a commands file.
type CommandSpec struct {
	Name    string   `yaml:"name"`
	Phrases []string `yaml:"phrases"`
}

type commandsFile struct {
	Commands []CommandSpec `yaml:"commands"`
}

// LoadCommands reads voice commands from a YAML file of the form
//
//	commands:
//	  - name: lights
//	    phrases: ["turn (on|off) the light"]
func LoadCommands(path string) ([]CommandSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("cli").
			Category(errors.CategoryFileSystem).
			FileContext(path, "read_commands").
			Build()
	}

	var file commandsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.New(err).
			Component("cli").
			Category(errors.CategoryInvalidFormat).
			FileContext(path, "parse_commands").
			Build()
	}
	if len(file.Commands) == 0 {
		return nil, errors.Newf("commands file %s defines no commands", path).
			Component("cli").
			Category(errors.CategoryInvalidFormat).
			Build()
	}
	return file.Commands, nil
}
