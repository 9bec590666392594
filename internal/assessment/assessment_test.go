package assessment

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"rag-portal/internal/config"
	"rag-portal/internal/db"
	"rag-portal/internal/models"
	"rag-portal/internal/testutil"
)

func newLogs(t *testing.T) (*db.ChatLogRepository, int64) {
	t.Helper()
	ctx := context.Background()
	bdb, err := db.Open(&config.DatabaseConfig{Driver: db.DriverSQLite, DSN: filepath.Join(t.TempDir(), "a.db")})
	require.NoError(t, err)
	t.Cleanup(func() { bdb.Close() })
	require.NoError(t, db.InitDB(ctx, bdb, 0))
	user, err := db.NewUserRepository(bdb).GetOrCreate(ctx, "candidate")
	require.NoError(t, err)
	return db.NewChatLogRepository(bdb), user.ID
}

func TestParseGender(t *testing.T) {
	g, err := ParseGender("Woman")
	require.NoError(t, err)
	require.Equal(t, Woman, g)
	require.Equal(t, "女性", g.Name())
	require.Equal(t, "男性", Man.Name())
	require.Contains(t, Prompt(Woman), "女性 の口調")

	_, err = ParseGender("robot")
	require.ErrorIs(t, err, ErrInvalidGender)
}

func TestGenerate_FirstTurnSeedsConversation(t *testing.T) {
	ctx := context.Background()
	logs, userID := newLogs(t)
	model := &testutil.FakeModel{Responses: []string{"こんにちは。質問1です。"}}
	svc := NewService(logs, model)

	history, err := svc.Generate(ctx, userID, models.ThreadLine, "ignored", Man)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, models.RoleSystem, history[0].Role)
	require.True(t, history[0].Invisible)
	require.Equal(t, models.AssessmentStart, history[1].Message)
	require.Equal(t, "こんにちは。質問1です。", history[2].Message)

	msgs := model.LastCall()
	require.Len(t, msgs, 2)
	require.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	require.Equal(t, []float64{0.5}, model.Temperatures)

	stored, err := logs.FindThread(ctx, userID, models.ThreadLine)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	require.Len(t, Visible(stored), 2)
}

func TestGenerate_FinishedConversationAsksForVerdict(t *testing.T) {
	ctx := context.Background()
	logs, userID := newLogs(t)
	model := &testutil.FakeModel{Responses: []string{
		"質問1です。",
		"アセスメントは終了です。",
		`{"skill": "目標設定力", "score": 80, "judge": "合格"}`,
	}}
	svc := NewService(logs, model)

	_, err := svc.Generate(ctx, userID, models.ThreadLine, "", Woman)
	require.NoError(t, err)

	history, err := svc.Generate(ctx, userID, models.ThreadLine, "本を読みます", Woman)
	require.NoError(t, err)

	var roles, messages []string
	for _, h := range history {
		roles = append(roles, h.Role)
		messages = append(messages, h.Message)
	}
	require.Equal(t, []string{"system", "user", "assistant", "user", "assistant", "user", "assistant"}, roles)
	require.Equal(t, "本を読みます", messages[3])
	require.Equal(t, models.AssessmentJudgeRequest, messages[5])
	require.True(t, history[5].Invisible)
	require.Len(t, model.Calls, 3)
	require.Len(t, model.LastCall(), 6)

	judgements := ParseJudgements(history[6].Message)
	require.Equal(t, []Judgement{{Skill: "目標設定力", Score: 80, Judge: "合格"}}, judgements)

	stored, err := logs.FindThread(ctx, userID, models.ThreadLine)
	require.NoError(t, err)
	require.Len(t, stored, 7)
}

func TestGenerate_Errors(t *testing.T) {
	ctx := context.Background()
	logs, userID := newLogs(t)
	model := &testutil.FakeModel{Responses: []string{"質問1です。"}}
	svc := NewService(logs, model)

	_, err := svc.Generate(ctx, userID, models.ThreadLine, "", Man)
	require.NoError(t, err)
	_, err = svc.Generate(ctx, userID, models.ThreadLine, "  ", Man)
	require.ErrorIs(t, err, ErrEmptyContent)

	upstream := errors.New("500 from model")
	model.Err = upstream
	_, err = svc.Generate(ctx, userID, models.ThreadLine, "answer", Man)
	require.ErrorIs(t, err, upstream)
}

func TestParseJudgements(t *testing.T) {
	text := "判定結果です\n" +
		`{"skill": "目標設定力", "score": 50, "judge": "不合格"}` + "\n" +
		`{"skill": "コミュニケーション力", "score": 96, "judge": "合格"}` + "\n" +
		`{"note": "ignored"} {broken`
	got := ParseJudgements(text)
	require.Len(t, got, 2)
	require.Equal(t, "コミュニケーション力", got[1].Skill)
	require.Equal(t, 96, got[1].Score)
	require.Empty(t, ParseJudgements("no json here"))
}
