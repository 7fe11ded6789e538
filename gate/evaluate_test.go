// proof-of-human/gate/evaluate_test.go
package gate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Asyncod/proof-of-human/database"
	"github.com/Asyncod/proof-of-human/models"
	"github.com/Asyncod/proof-of-human/utils"
)

// issueFor seeds the gate with a fresh challenge and returns the stored
// record plus the action data of the correct and one wrong button.
func issueFor(t *testing.T, svc *Service, client *mockClient, db *database.DatabaseService, userID, chatID int64) (*models.Challenge, string, string) {
	t.Helper()

	msg := groupMessage(chatID, userID, "trigger")
	if _, err := svc.Issue(context.Background(), msg); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	stored, err := db.GetChallenge(userID, chatID)
	if err != nil || stored == nil {
		t.Fatalf("Challenge not persisted: %v", err)
	}

	sent := client.challenges[len(client.challenges)-1]
	correct, wrong := "", ""
	for _, opt := range sent.Options {
		if opt.Label == stored.CorrectSymbol {
			correct = opt.ActionData
		} else if wrong == "" {
			wrong = opt.ActionData
		}
	}
	if correct == "" || wrong == "" {
		t.Fatal("Challenge options missing correct or wrong button")
	}
	return stored, correct, wrong
}

func TestEvaluateCorrectVerifies(t *testing.T) {
	svc, client, db := setupGate(t)
	stored, correct, _ := issueFor(t, svc, client, db, 11, 500)

	token, _, _, err := parseVerifyAction(correct)
	if err != nil {
		t.Fatalf("parseVerifyAction: %v", err)
	}

	result, err := svc.Evaluate(context.Background(), 11, 500, token)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Verdict != Correct {
		t.Fatalf("Verdict = %s, want correct", result.Verdict)
	}

	user, err := db.GetUser(11)
	if err != nil || user == nil {
		t.Fatalf("User missing after verification: %v", err)
	}
	if user.Status != models.Verified {
		t.Error("User not promoted after correct answer")
	}

	if remaining, _ := db.GetChallenge(11, 500); remaining != nil {
		t.Error("Challenge record survived a correct answer")
	}

	// The prompt message is removed on success.
	found := false
	for _, d := range client.deleted {
		if d[0] == 500 && d[1] == stored.MessageID {
			found = true
		}
	}
	if !found {
		t.Error("Prompt message was not deleted on success")
	}

	// Any further evaluation for the key reports the challenge gone.
	again, err := svc.Evaluate(context.Background(), 11, 500, token)
	if err != nil {
		t.Fatalf("Evaluate after success: %v", err)
	}
	if again.Verdict != NotFound {
		t.Errorf("Post-success verdict = %s, want not_found", again.Verdict)
	}
}

func TestEvaluateWrongThenLockout(t *testing.T) {
	svc, client, db := setupGate(t)
	stored, _, wrong := issueFor(t, svc, client, db, 12, 500)

	token, _, _, err := parseVerifyAction(wrong)
	if err != nil {
		t.Fatalf("parseVerifyAction: %v", err)
	}

	ctx := context.Background()

	// Default limit is two attempts: first wrong answer leaves one.
	result, err := svc.Evaluate(ctx, 12, 500, token)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Verdict != WrongRemaining || result.Remaining != 1 {
		t.Fatalf("First wrong: got %s remaining=%d, want wrong_remaining remaining=1", result.Verdict, result.Remaining)
	}

	result, err = svc.Evaluate(ctx, 12, 500, token)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Verdict != LockedOut {
		t.Fatalf("Second wrong: got %s, want locked_out", result.Verdict)
	}

	if remaining, _ := db.GetChallenge(12, 500); remaining != nil {
		t.Error("Challenge record survived lockout")
	}
	user, err := db.GetUser(12)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user != nil && user.Status == models.Verified {
		t.Error("Locked-out user must stay unverified")
	}

	// Lockout removes both the prompt and the original message.
	deletedPrompt, deletedTrigger := false, false
	for _, d := range client.deleted {
		if d[0] == 500 && d[1] == stored.MessageID {
			deletedPrompt = true
		}
		if d[0] == 500 && d[1] == stored.UserMessageID {
			deletedTrigger = true
		}
	}
	if !deletedPrompt || !deletedTrigger {
		t.Errorf("Lockout cleanup incomplete: prompt=%v trigger=%v", deletedPrompt, deletedTrigger)
	}
}

func TestEvaluateVerificationIsOneWay(t *testing.T) {
	svc, client, db := setupGate(t)
	_, correct, _ := issueFor(t, svc, client, db, 13, 500)

	token, _, _, err := parseVerifyAction(correct)
	if err != nil {
		t.Fatalf("parseVerifyAction: %v", err)
	}
	ctx := context.Background()
	if result, err := svc.Evaluate(ctx, 13, 500, token); err != nil || result.Verdict != Correct {
		t.Fatalf("Correct answer rejected: %v %v", result, err)
	}

	// A later wrong press for a new challenge must not downgrade the user.
	_, _, wrong := issueFor(t, svc, client, db, 13, 501)
	wrongToken, _, _, err := parseVerifyAction(wrong)
	if err != nil {
		t.Fatalf("parseVerifyAction: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := svc.Evaluate(ctx, 13, 501, wrongToken); err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
	}

	user, err := db.GetUser(13)
	if err != nil || user == nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.Status != models.Verified {
		t.Error("Verified status was lost; verification must be one-way")
	}
}

func TestEvaluateExpiredChallenge(t *testing.T) {
	svc, client, db := setupGate(t)
	stored, correct, _ := issueFor(t, svc, client, db, 14, 500)

	aged := *stored
	aged.ExpiresAt = utils.FormatTimestamp(utils.GetTime().Add(-time.Minute))
	if _, err := db.PutChallenge(aged); err != nil {
		t.Fatalf("Failed to age challenge: %v", err)
	}

	token, _, _, err := parseVerifyAction(correct)
	if err != nil {
		t.Fatalf("parseVerifyAction: %v", err)
	}

	result, err := svc.Evaluate(context.Background(), 14, 500, token)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Verdict != Expired {
		t.Fatalf("Verdict = %s, want expired", result.Verdict)
	}
	if remaining, _ := db.GetChallenge(14, 500); remaining != nil {
		t.Error("Expired challenge record not removed")
	}

	user, err := db.GetUser(14)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user != nil && user.Status == models.Verified {
		t.Error("Expired challenge must not verify the user")
	}
}

func TestEvaluateMissingChallenge(t *testing.T) {
	svc, _, _ := setupGate(t)

	result, err := svc.Evaluate(context.Background(), 999, 999, "whatever")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Verdict != NotFound {
		t.Errorf("Verdict = %s, want not_found", result.Verdict)
	}
}

func TestHandleActionOwnershipAndParsing(t *testing.T) {
	svc, client, db := setupGate(t)
	_, correct, _ := issueFor(t, svc, client, db, 15, 500)

	ctx := context.Background()

	svc.HandleAction(ctx, models.ActionPress{QueryID: "q1", SenderID: 16, Data: correct})
	if answer := client.lastAnswer(t); !answer.Alert || !strings.Contains(answer.Text, "not for you") {
		t.Errorf("Foreign press answer = %+v, want ownership alert", answer)
	}
	if challenge, _ := db.GetChallenge(15, 500); challenge == nil {
		t.Fatal("Foreign press must not consume the challenge")
	}

	svc.HandleAction(ctx, models.ActionPress{QueryID: "q2", SenderID: 15, Data: "captcha:verify:bad"})
	if answer := client.lastAnswer(t); !answer.Alert || !strings.Contains(answer.Text, "Invalid") {
		t.Errorf("Malformed press answer = %+v, want invalid-data alert", answer)
	}

	// The owner pressing the right button verifies and gets the success
	// acknowledgement.
	svc.HandleAction(ctx, models.ActionPress{QueryID: "q3", SenderID: 15, Data: correct})
	if answer := client.lastAnswer(t); !strings.Contains(answer.Text, "passed") {
		t.Errorf("Correct press answer = %+v, want success text", answer)
	}
	user, err := db.GetUser(15)
	if err != nil || user == nil || user.Status != models.Verified {
		t.Errorf("Owner press did not verify the user: %v %v", user, err)
	}
}

func TestHandleActionThrottled(t *testing.T) {
	svc, client, db := setupGate(t)
	_, correct, _ := issueFor(t, svc, client, db, 17, 500)
	svc.limiter = models.NewRateLimiter(1, time.Hour)
	svc.limiter.Allow(17, 500) // consume the budget

	svc.HandleAction(context.Background(), models.ActionPress{QueryID: "q1", SenderID: 17, Data: correct})
	if answer := client.lastAnswer(t); !strings.Contains(answer.Text, "slow down") {
		t.Errorf("Throttled press answer = %+v, want throttle alert", answer)
	}
	if challenge, _ := db.GetChallenge(17, 500); challenge == nil {
		t.Error("Throttled press must not consume the challenge")
	}
}
