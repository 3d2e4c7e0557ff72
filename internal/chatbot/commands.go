package chatbot

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"ElicitChat/internal/backend"
	"ElicitChat/internal/config"
	"ElicitChat/internal/dialogue"
	"ElicitChat/internal/prompt"
)

const helpText = `Available commands:
  /quit, /exit                      - Exit the chatbot
  /new-session                      - Save this conversation and start a new one
  /history                          - Show the conversation so far
  /mode [interactive|batch]         - Show or set the dialogue mode
  /switch <backend>                 - Switch LLM backend (ollama|anthropic|grok|openai|dashscope)
  /stories                          - List user stories
  /story <id>                       - Select a user story
  /story-new <title>                - Create a user story and select it
  /story-set content|criteria <txt> - Update the selected story
  /context <text>                   - Set the business context of all stories
  /story-delete                     - Delete the selected story
  /list-ollama-models               - List available Ollama models
  /set-ollama-model <model>         - Set Ollama model (e.g., llama3:latest)
  /help                             - Show this help message`

// handleCommand handles slash commands. It reports whether the chat loop should end.
func (cb *ChatBot) handleCommand(ctx context.Context, input string) (bool, error) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return false, nil
	}
	// rest keeps the argument text with its inner spacing
	rest := strings.TrimSpace(strings.TrimPrefix(input, parts[0]))

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new-session":
		if err := cb.saveSession(ctx); err != nil {
			cb.logger.Error("failed to save current session", "error", err)
		}
		cb.session = cb.newSession()
		if err := cb.useClient(cb.config); err != nil {
			return false, err
		}
		fmt.Fprintln(cb.out, "Started new session:", cb.session.ID)

	case "/history":
		fmt.Fprintln(cb.out, prompt.FormatHistory(cb.session.History()))
		fmt.Fprintln(cb.out)

	case "/mode":
		if rest == "" {
			fmt.Fprintf(cb.out, "Mode: %s\n", cb.mode)
			return false, nil
		}
		mode, err := dialogue.ParseMode(rest)
		if err != nil {
			return false, err
		}
		cb.mode = mode
		fmt.Fprintf(cb.out, "Mode set to %s\n", mode)

	case "/switch":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /switch <backend> (%s)", strings.Join(config.Backends, "|"))
		}
		next, err := cb.config.WithBackend(strings.ToLower(parts[1]), cb.lookup)
		if err != nil {
			return false, err
		}
		if err := cb.useClient(next); err != nil {
			return false, err
		}
		cb.logger.Info("switched backend", "backend", next.Backend, "model", next.Model)
		fmt.Fprintf(cb.out, "Switched to %s backend (%s)\n", next.Backend, next.Model)

	case "/stories":
		return false, cb.listStories(ctx)

	case "/story":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /story <id>")
		}
		return false, cb.selectStory(ctx, parts[1])

	case "/story-new":
		if rest == "" {
			return false, fmt.Errorf("usage: /story-new <title>")
		}
		businessContext := ""
		if cb.current != nil {
			businessContext = cb.current.BusinessContext
		}
		rec, err := cb.stories.Create(ctx, rest, "", businessContext)
		if err != nil {
			return false, err
		}
		cb.current = &rec
		fmt.Fprintf(cb.out, "Created story %q [%s]\n", rec.Title, rec.ID)

	case "/story-set":
		return false, cb.setStoryField(ctx, parts, rest)

	case "/context":
		if rest == "" {
			if cb.current != nil {
				fmt.Fprintln(cb.out, cb.current.BusinessContext)
			}
			return false, nil
		}
		n, err := cb.stories.SetBusinessContext(ctx, rest)
		if err != nil {
			return false, err
		}
		if cb.current != nil {
			cb.current.BusinessContext = rest
		}
		fmt.Fprintf(cb.out, "Business context updated for %d stories\n", n)

	case "/story-delete":
		return false, cb.deleteStory(ctx)

	case "/list-ollama-models":
		return false, cb.listOllamaModels(ctx)

	case "/set-ollama-model":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /set-ollama-model <model:version>")
		}
		next := cb.config
		next.OllamaModel = parts[1]
		if next.Backend == config.BackendOllama {
			next.Model = parts[1]
			if err := cb.useClient(next); err != nil {
				return false, err
			}
		} else {
			cb.config = next
		}
		fmt.Fprintf(cb.out, "Ollama model set to: %s\n", parts[1])

	case "/help":
		fmt.Fprintln(cb.out, helpText)

	default:
		return false, fmt.Errorf("unknown command: %s (type /help)", parts[0])
	}
	return false, nil
}

func (cb *ChatBot) listStories(ctx context.Context) error {
	records, err := cb.stories.List(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(cb.out, "No stories yet. Create one with /story-new <title>")
		return nil
	}
	fmt.Fprintln(cb.out, "\nUser stories:")
	for i, r := range records {
		current := ""
		if cb.current != nil && cb.current.ID == r.ID {
			current = " (current)"
		}
		fmt.Fprintf(cb.out, "%d. %s - %s%s\n", i+1, r.ID, r.Title, current)
	}
	fmt.Fprintln(cb.out)
	return nil
}

func (cb *ChatBot) selectStory(ctx context.Context, raw string) error {
	id, err := uuid.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid story id: %w", err)
	}
	rec, err := cb.stories.Get(ctx, id)
	if err != nil {
		return err
	}
	cb.current = &rec
	fmt.Fprintf(cb.out, "Selected story %q\n", rec.Title)
	if text := rec.StoryText(); text != "" {
		fmt.Fprintln(cb.out, text)
	}
	return nil
}

func (cb *ChatBot) setStoryField(ctx context.Context, parts []string, rest string) error {
	if len(parts) < 3 {
		return fmt.Errorf("usage: /story-set content|criteria <text>")
	}
	if cb.current == nil {
		return errNoStory
	}
	text := strings.TrimSpace(strings.TrimPrefix(rest, parts[1]))
	// literal \n lets a single input line carry several story lines
	text = strings.ReplaceAll(text, `\n`, "\n")

	updated := *cb.current
	switch parts[1] {
	case "content":
		updated.Content = text
	case "criteria":
		updated.AcceptanceCriteria = text
	default:
		return fmt.Errorf("unknown story field: %s (content|criteria)", parts[1])
	}
	if err := cb.stories.Save(ctx, &updated); err != nil {
		return err
	}
	cb.current = &updated
	fmt.Fprintf(cb.out, "Story %s saved\n", parts[1])
	return nil
}

func (cb *ChatBot) deleteStory(ctx context.Context) error {
	if cb.current == nil {
		return errNoStory
	}
	fmt.Fprintf(cb.out, "Delete story %q? [y/N]: ", cb.current.Title)
	answer, ok := cb.readLine(ctx)
	if !ok || !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
		fmt.Fprintln(cb.out, "Cancelled")
		return nil
	}
	if err := cb.stories.Delete(ctx, cb.current.ID); err != nil {
		return err
	}
	fmt.Fprintf(cb.out, "Deleted story %q\n", cb.current.Title)
	cb.logger.Info("story deleted", "story_id", cb.current.ID)
	cb.current = nil
	return cb.selectInitialStory(ctx)
}

// listOllamaModels prints the models the local Ollama server has pulled
func (cb *ChatBot) listOllamaModels(ctx context.Context) error {
	baseURL := config.DefaultBaseURL(config.BackendOllama)
	if cb.config.Backend == config.BackendOllama {
		baseURL = cb.config.BaseURL
	}
	ollama, err := backend.NewOllama(backend.Options{
		BaseURL: baseURL,
		Model:   cb.config.OllamaModel,
		Timeout: cb.config.Timeout,
		Logger:  cb.logger,
	})
	if err != nil {
		return err
	}

	models, err := ollama.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list Ollama models: %w", err)
	}
	fmt.Fprintln(cb.out, "\nAvailable Ollama models:")
	for i, model := range models {
		sizeGB := float64(model.Size) / (1024 * 1024 * 1024)
		current := ""
		if model.Name == cb.config.OllamaModel {
			current = " (current)"
		}
		fmt.Fprintf(cb.out, "%d. %s - %.2f GB%s\n", i+1, model.Name, sizeGB, current)
	}
	fmt.Fprintln(cb.out)
	return nil
}
