package main

import (
	"context"
	"fmt"
	"time"
)

const checkTimeout = 15 * time.Second

// CheckCmd validates configuration and probes the collaborators.
type CheckCmd struct {
	Offline bool `long:"offline" description:"only validate configuration and assets"`
}

func (c *CheckCmd) Execute(_ []string) error {
	cfg, logger, err := global.loadValid()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("agent:      %s (%s)\n", a.persona.Profile.Name, cfg.AgentName)
	fmt.Printf("knowledge:  %v\n", a.retriever.Configured())
	fmt.Printf("scheduling: %v\n", a.scheduler != nil)
	fmt.Printf("transfer:   %v\n", cfg.TransferTo != "")
	if c.Offline {
		return nil
	}

	failed := 0
	probes := []struct {
		name  string
		check func(context.Context) error
	}{
		{"language model", a.llm.Health},
		{"text to speech", a.tts.Health},
	}
	for _, p := range probes {
		if err := p.check(ctx); err != nil {
			failed++
			fmt.Printf("%-15s FAIL %v\n", p.name, err)
			continue
		}
		fmt.Printf("%-15s ok\n", p.name)
	}
	if failed > 0 {
		return fmt.Errorf("%d collaborator checks failed", failed)
	}
	return nil
}
