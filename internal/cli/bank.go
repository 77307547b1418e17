package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"noob2root-bot/internal/app"
	"noob2root-bot/internal/config"
	"noob2root-bot/internal/domain"
)

// bankFile is the YAML layout accepted by `bank import`.
type bankFile struct {
	Questions []domain.Question `yaml:"questions"`
}

// NewBankCmd groups the curated question bank commands.
func NewBankCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bank",
		Short: "Manage the curated question bank",
	}
	cmd.AddCommand(newBankAddCmd(configPath), newBankImportCmd(configPath), newBankListCmd(configPath))
	return cmd
}

func newBankAddCmd(configPath *string) *cobra.Command {
	var q domain.Question
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add one question to the bank",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBank(cmd.Context(), *configPath, func(bank app.QuestionBank, logger *zap.Logger) error {
				q.Provenance = domain.ProvenanceCurated
				if err := bank.Add(cmd.Context(), q); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added question to %s (%s)\n", q.Category, q.Difficulty)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&q.Category, "category", "general", "question category")
	cmd.Flags().StringVar(&q.Text, "question", "", "question text")
	cmd.Flags().StringSliceVar(&q.Options, "option", nil, "answer option, repeat four times")
	cmd.Flags().IntVar(&q.Answer, "answer", 0, "number of the correct option (1-4)")
	cmd.Flags().StringVar(&q.Difficulty, "difficulty", "medium", "easy, medium or hard")
	_ = cmd.MarkFlagRequired("question")
	_ = cmd.MarkFlagRequired("answer")
	return cmd
}

func newBankImportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import questions from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var file bankFile
			if err := yaml.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			return withBank(cmd.Context(), *configPath, func(bank app.QuestionBank, logger *zap.Logger) error {
				added, err := importQuestions(cmd.Context(), bank, file.Questions, logger)
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d/%d questions\n", added, len(file.Questions))
				return err
			})
		},
	}
}

// importQuestions adds each question, skipping invalid ones. It fails only
// when the store itself fails.
func importQuestions(ctx context.Context, bank app.QuestionBank, questions []domain.Question, logger *zap.Logger) (int, error) {
	added := 0
	for i, q := range questions {
		if q.Provenance == "" {
			q.Provenance = domain.ProvenanceCurated
		}
		err := bank.Add(ctx, q)
		switch {
		case err == nil:
			added++
		case isRejected(err):
			logger.Warn("skipping question", zap.Int("index", i), zap.String("question", q.Text), zap.Error(err))
		default:
			return added, err
		}
	}
	return added, nil
}

func isRejected(err error) bool {
	return errors.Is(err, domain.ErrInvalidQuestion) || errors.Is(err, domain.ErrInvalidCategory)
}

func newBankListCmd(configPath *string) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the questions of one category",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBank(cmd.Context(), *configPath, func(bank app.QuestionBank, _ *zap.Logger) error {
				questions, err := bank.Questions(cmd.Context(), category)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for i, q := range questions {
					fmt.Fprintf(out, "%d. [%s/%s] %s (answer %d: %s)\n", i+1, q.Difficulty, q.Provenance, q.Text, q.Answer, q.CorrectOption())
				}
				if len(questions) == 0 {
					fmt.Fprintf(out, "no questions in %s\n", category)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "general", "question category")
	return cmd
}

func withBank(ctx context.Context, configPath string, fn func(app.QuestionBank, *zap.Logger) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(app.NewDocumentBank(st.docs), logger)
}
