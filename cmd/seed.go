package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/store"
)

// seedFile is the YAML layout accepted by the seed command.
type seedFile struct {
	Campaigns []model.Campaign `yaml:"campaigns"`
	Flows     []seedFlow       `yaml:"flows"`
}

type seedFlow struct {
	model.Flow  `yaml:",inline"`
	Nodes       []seedNode             `yaml:"nodes"`
	Connections []model.FlowConnection `yaml:"connections"`
}

type seedNode struct {
	model.FlowNode `yaml:",inline"`
	Config         map[string]any `yaml:"config"`
}

type seedResult struct {
	Campaigns int
	Flows     int
	Skipped   int
}

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Load campaigns and flows from a YAML file",
	Long:  "Creates every campaign and flow in the file. Entries whose id already exists are skipped, so the command can be re-run.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("cli"); err != nil {
			return err
		}

		f, err := readSeedFile(args[0])
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := applySeed(ctx, st, f)
		if err != nil {
			return err
		}
		zap.L().Info("seed complete",
			zap.String("file", args[0]),
			zap.Int("campaigns", res.Campaigns),
			zap.Int("flows", res.Flows),
			zap.Int("skipped", res.Skipped),
		)
		return nil
	},
}

func readSeedFile(path string) (*seedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "seed: read %s", path)
	}
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrapf(err, "seed: parse %s", path)
	}
	for i, c := range f.Campaigns {
		if c.Name == "" {
			return nil, eris.Errorf("seed: campaign %d has no name", i)
		}
	}
	for i, fl := range f.Flows {
		if fl.Name == "" {
			return nil, eris.Errorf("seed: flow %d has no name", i)
		}
	}
	return &f, nil
}

func applySeed(ctx context.Context, st store.Store, f *seedFile) (seedResult, error) {
	var res seedResult
	for i := range f.Campaigns {
		c := f.Campaigns[i]
		if c.ID != "" {
			if _, err := st.GetCampaign(ctx, c.ID); err == nil {
				res.Skipped++
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return res, eris.Wrapf(err, "seed: check campaign %s", c.ID)
			}
		}
		if err := st.CreateCampaign(ctx, &c); err != nil {
			return res, eris.Wrapf(err, "seed: campaign %q", c.Name)
		}
		res.Campaigns++
	}

	for _, sf := range f.Flows {
		fl := sf.Flow
		if fl.ID != "" {
			if _, err := st.GetFlow(ctx, fl.ID); err == nil {
				res.Skipped++
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return res, eris.Wrapf(err, "seed: check flow %s", fl.ID)
			}
		}
		nodes := make([]model.FlowNode, 0, len(sf.Nodes))
		for _, n := range sf.Nodes {
			node := n.FlowNode
			if n.Config != nil {
				raw, err := json.Marshal(n.Config)
				if err != nil {
					return res, eris.Wrapf(err, "seed: flow %q node %q config", fl.Name, node.Label)
				}
				node.Config = raw
			}
			nodes = append(nodes, node)
		}
		if err := st.CreateFlow(ctx, &fl, nodes, sf.Connections); err != nil {
			return res, eris.Wrapf(err, "seed: flow %q", fl.Name)
		}
		res.Flows++
	}
	return res, nil
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
