package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"kidvoice/internal/models"
	"kidvoice/internal/repository"
	"kidvoice/internal/validation"
)

var childCmd = &cobra.Command{
	Use:   "child",
	Short: "Manage child profiles",
}

var (
	childID          string
	childParentEmail string
	childLevel       string
	childVoice       bool
)

// newChild validates CLI input into a profile
func newChild(id, name string, age int, parentEmail, level string, voice bool) (*models.Child, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if err := validation.ValidateID("child_id", id); err != nil {
		return nil, err
	}
	if err := validation.ValidateName(name); err != nil {
		return nil, err
	}
	if err := validation.ValidateAge(age); err != nil {
		return nil, err
	}
	if parentEmail != "" {
		if err := validation.ValidateEmail(parentEmail); err != nil {
			return nil, err
		}
	}
	vocabulary, ok := models.ParseVocabularyLevel(level)
	if !ok {
		return nil, fmt.Errorf("unknown vocabulary level %q", level)
	}

	return &models.Child{
		ID:              id,
		Name:            strings.TrimSpace(name),
		Age:             age,
		ParentEmail:     strings.TrimSpace(parentEmail),
		AIVoiceEnabled:  voice,
		VocabularyLevel: vocabulary,
	}, nil
}

var childAddCmd = &cobra.Command{
	Use:   "add <name> <age>",
	Short: "Create a child profile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		age, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("age must be a number: %w", err)
		}
		child, err := newChild(childID, args[0], age, childParentEmail, childLevel, childVoice)
		if err != nil {
			return err
		}

		db, err := openDatabase(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		if err := repository.NewChildRepository(db).CreateChild(cmd.Context(), child); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created child %s (%s)\n", child.ID, child.Name)
		return nil
	},
}

var childSetVoiceCmd = &cobra.Command{
	Use:   "set-voice <child-id> <on|off>",
	Short: "Turn the AI voice on or off for a child",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var enabled bool
		switch strings.ToLower(args[1]) {
		case "on", "true", "yes":
			enabled = true
		case "off", "false", "no":
		default:
			return fmt.Errorf("expected on or off, got %q", args[1])
		}

		db, err := openDatabase(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		children := repository.NewChildRepository(db)
		child, err := children.GetChildByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if child == nil {
			return fmt.Errorf("child %s not found", args[0])
		}
		if err := children.SetAIVoiceEnabled(cmd.Context(), child.ID, enabled); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "AI voice for %s is now %s\n", child.Name, args[1])
		return nil
	},
}

func init() {
	childAddCmd.Flags().StringVar(&childID, "id", "", "Child id (default: a new UUID)")
	childAddCmd.Flags().StringVar(&childParentEmail, "parent-email", "", "Where session summaries are emailed")
	childAddCmd.Flags().StringVar(&childLevel, "level", "beginner", "Starting vocabulary level: beginner, intermediate or advanced")
	childAddCmd.Flags().BoolVar(&childVoice, "voice", true, "Enable the AI voice for this child")

	childCmd.AddCommand(childAddCmd, childSetVoiceCmd)
}
