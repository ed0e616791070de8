package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"progcactus/internal/procexec"
)

// FakeCreator returns a procexec.Recorder handler that stands in for the
// project-creation step. It writes a descriptor whose content is a pure
// function of the creation arguments and the target directory, and creates
// the root's working directory. Other commands succeed without effect.
func FakeCreator(tree string) func(ctx context.Context, cmd procexec.Command) (int, error) {
	return func(_ context.Context, cmd procexec.Command) (int, error) {
		if cmd.Name != CreateCommand {
			return 0, nil
		}
		if len(cmd.Args) < 2 {
			return 2, nil
		}
		target := cmd.Args[1]
		root := tree[strings.LastIndex(tree, ")")+1:]
		root = strings.TrimSuffix(root, ";")
		if err := os.MkdirAll(filepath.Join(target, root), 0o755); err != nil {
			return -1, err
		}
		desc := fmt.Sprintf(`<multi_cactus>
  <tree>%s</tree>
  <cactus name="%s" experiment_path="%s"/>
  <creation args="%s"/>
</multi_cactus>
`, tree, root, filepath.Join(target, root, root+"_experiment.xml"), strings.Join(cmd.Args[2:], " "))
		if err := os.WriteFile(DescriptorPath(target), []byte(desc), 0o644); err != nil {
			return -1, err
		}
		return 0, nil
	}
}
