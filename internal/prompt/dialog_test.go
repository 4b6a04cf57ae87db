package prompt

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/huh"
	"github.com/flemzord/toolhost/internal/tool"
)

type question struct {
	title, description, affirmative string
}

func recordingDialog(answer bool, err error) (*Dialog, *[]question) {
	var asked []question
	d := New(Config{Confirm: func(_ context.Context, title, description, affirmative, _ string) (bool, error) {
		asked = append(asked, question{title, description, affirmative})
		return answer, err
	}})
	return d, &asked
}

func TestDialog_Confirm(t *testing.T) {
	t.Parallel()

	d, asked := recordingDialog(true, nil)
	ok, err := d.Confirm(context.Background(), tool.ConfirmationMessages{
		Title:      "Run Terminal?",
		Message:    "rm -rf build",
		Disclaimer: "This tool is not eligible for auto-approval.",
	})
	if err != nil || !ok {
		t.Fatalf("Confirm = %v, %v", ok, err)
	}
	got := (*asked)[0]
	if got.title != "Run Terminal?" || got.affirmative != "Allow" {
		t.Errorf("question = %+v", got)
	}
	if !strings.HasPrefix(got.description, "rm -rf build\n\n") || !strings.HasSuffix(got.description, "auto-approval.") {
		t.Errorf("description = %q", got.description)
	}
}

func TestDialog_ConfirmAutoApprove(t *testing.T) {
	t.Parallel()

	d, asked := recordingDialog(false, nil)
	ok, err := d.ConfirmAutoApprove(context.Background())
	if err != nil || ok {
		t.Fatalf("ConfirmAutoApprove = %v, %v", ok, err)
	}
	if (*asked)[0].affirmative != "Enable" {
		t.Errorf("question = %+v", (*asked)[0])
	}
}

func TestDialog_AbortIsRefusal(t *testing.T) {
	t.Parallel()

	d, _ := recordingDialog(true, huh.ErrUserAborted)
	ok, err := d.Confirm(context.Background(), tool.ConfirmationMessages{Title: "x"})
	if err != nil || ok {
		t.Fatalf("Confirm = %v, %v; want false, nil", ok, err)
	}
}

func TestDialog_CancelledContext(t *testing.T) {
	t.Parallel()

	d, asked := recordingDialog(true, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Confirm(ctx, tool.ConfirmationMessages{Title: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Confirm = %v, want context.Canceled", err)
	}
	if len(*asked) != 0 {
		t.Error("nothing should be asked with a cancelled context")
	}
}
