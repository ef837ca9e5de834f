package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/LevitateOS/installer/pkg/plan"
	"github.com/LevitateOS/installer/pkg/session"
)

// RunPlain drives the conversation over a line editor instead of the
// full-screen TUI — serial consoles and scripts, mostly. Same session,
// same confirmation rules.
func RunPlain(ctx context.Context, sess *session.Session) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "installer> ",
		InterruptPrompt: "^C",
	})
	if err != nil {
		return fmt.Errorf("open line editor: %w", err)
	}
	defer rl.Close()

	fmt.Println(Banner(sess.ID()))
	fmt.Println(`Tell me what to do in plain language. "help" lists the steps; Ctrl-D exits.`)

	interrupted := false
	for {
		if _, pending := sess.Pending(); pending {
			rl.SetPrompt(`confirm (type "yes")> `)
		} else {
			rl.SetPrompt("installer> ")
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if interrupted {
				return nil
			}
			interrupted = true
			fmt.Println("press Ctrl-C again to quit")
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		interrupted = false

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if _, pending := sess.Pending(); pending {
			turn, err := sess.ConfirmText(ctx, line)
			if err != nil {
				fmt.Printf("that didn't work: %v\n", err)
				continue
			}
			if turn.Result == nil {
				fmt.Println("cancelled; nothing was changed")
			} else {
				printResult(turn)
			}
			continue
		}

		turn, err := sess.SubmitIntent(ctx, line)
		if err != nil {
			fmt.Printf("that didn't work: %v\n", err)
			continue
		}
		printTurn(turn)
	}
}

func printTurn(turn *session.Turn) {
	p := turn.Plan
	switch p.Variant {
	case plan.Clarify:
		fmt.Println(p.Question)
	case plan.Rejected:
		fmt.Printf("can't do that (%s): %s\n", p.Reason, p.Detail)
	case plan.NeedsConfirmation:
		fmt.Println(p.Summary)
		fmt.Println(`Type "yes" to proceed; anything else cancels.`)
	default:
		for _, w := range p.Warnings {
			fmt.Println("warning:", w)
		}
		printResult(turn)
	}
}

func printResult(turn *session.Turn) {
	res := turn.Result
	if res == nil {
		return
	}
	if res.Succeeded() {
		if res.Details != "" {
			fmt.Println(res.Details)
		} else {
			fmt.Println("done")
		}
		return
	}
	fmt.Printf("%s failed: %s\n", res.Action, res.Failure.Detail)
	if res.Failure.Recoverable {
		fmt.Println("this may work on another try — ask me again")
	}
}
