package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	apperr "github.com/nick-dorsch/trellis/internal/errors"
	"github.com/nick-dorsch/trellis/pkg/models"
)

// Command is one field-level change to a task. The set of commands is closed;
// TransitionTask applies them in order to a copy of the stored task.
type Command interface {
	apply(t *models.Task)
	name() string
}

// ChangeStatus moves the task to Status.
type ChangeStatus struct {
	Status models.TaskStatus `validate:"task_status"`
}

// AssignUser sets the assignee.
type AssignUser struct {
	UserID string `validate:"required"`
}

// Unassign clears the assignee.
type Unassign struct{}

// SetFeature links the task to a feature. The module is derived from the
// feature when the command is applied.
type SetFeature struct {
	FeatureID string `validate:"required"`
}

// ClearFeature unlinks the task from its feature and module.
type ClearFeature struct{}

type Rename struct {
	Title string `validate:"required,max=200"`
}

type SetDescription struct {
	Description string
}

// SetCategory sets the category, or clears it when CategoryID is empty.
type SetCategory struct {
	CategoryID string
}

// SetDueDate sets the due date, or clears it when Date is nil.
type SetDueDate struct {
	Date *time.Time
}

type AddLink struct {
	URL   string `validate:"required,url"`
	Title string `validate:"max=200"`
}

type RemoveLink struct {
	LinkID string `validate:"required"`
}

func (c ChangeStatus) apply(t *models.Task) { t.Status = c.Status }
func (c ChangeStatus) name() string         { return "change_status" }

func (c AssignUser) apply(t *models.Task) { t.Assignee = models.StringPtr(c.UserID) }
func (c AssignUser) name() string         { return "assign_user" }

func (Unassign) apply(t *models.Task) { t.Assignee = nil }
func (Unassign) name() string         { return "unassign" }

func (c SetFeature) apply(t *models.Task) {
	if models.Deref(t.FeatureID) != c.FeatureID {
		t.FeatureID = models.StringPtr(c.FeatureID)
		t.ModuleID = nil
	}
}
func (c SetFeature) name() string { return "set_feature" }

func (ClearFeature) apply(t *models.Task) {
	t.FeatureID = nil
	t.ModuleID = nil
}
func (ClearFeature) name() string { return "clear_feature" }

func (c Rename) apply(t *models.Task) { t.Title = strings.TrimSpace(c.Title) }
func (c Rename) name() string         { return "rename" }

func (c SetDescription) apply(t *models.Task) { t.Description = c.Description }
func (c SetDescription) name() string         { return "set_description" }

func (c SetCategory) apply(t *models.Task) {
	if c.CategoryID == "" {
		t.CategoryID = nil
		return
	}
	t.CategoryID = models.StringPtr(c.CategoryID)
}
func (c SetCategory) name() string { return "set_category" }

func (c SetDueDate) apply(t *models.Task) {
	if c.Date == nil {
		t.DueDate = nil
		return
	}
	d := *c.Date
	t.DueDate = &d
}
func (c SetDueDate) name() string { return "set_due_date" }

func (c AddLink) apply(t *models.Task) {
	t.Links = append(t.Links, models.Link{URL: c.URL, Title: c.Title})
}
func (c AddLink) name() string { return "add_link" }

func (c RemoveLink) apply(t *models.Task) {
	kept := t.Links[:0:0]
	for _, l := range t.Links {
		if l.ID != c.LinkID {
			kept = append(kept, l)
		}
	}
	t.Links = kept
}
func (c RemoveLink) name() string { return "remove_link" }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("task_status", func(fl validator.FieldLevel) bool {
		return models.TaskStatus(fl.Field().String()).Valid()
	})
	return v
}

// ValidateCommands checks every command payload. The first failure is
// returned as an invalid_command validation error.
func ValidateCommands(cmds ...Command) error {
	if len(cmds) == 0 {
		return apperr.Validation(apperr.ReasonInvalidCommand, "no changes given")
	}
	for _, cmd := range cmds {
		if cmd == nil {
			return apperr.Validation(apperr.ReasonInvalidCommand, "nil command")
		}
		if err := validate.Struct(cmd); err != nil {
			return apperr.Validation(apperr.ReasonInvalidCommand, "%s: %s", cmd.name(), describe(err))
		}
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed '%s' (value %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return strings.Join(msgs, "; ")
}
