package models

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	MetaSource   = "source"
	MetaFilename = "filename"
	MetaPage     = "page"
	MetaChunk    = "chunk"
	MetaType     = "type"
)

const (
	ThreadQA   = "qa"
	ThreadChat = "chat"
	ThreadLine = "line"
	// ThreadLineMedia keeps the LINE image, speech and voice rows apart from
	// the assessment replayed in ThreadLine.
	ThreadLineMedia = "line-media"
)

const (
	SummarySeparator = "\n\n"
	SummaryTemplate  = "Content: %s\nSource: %s"

	AssessmentStart        = "アセスメントスタート"
	AssessmentFinished     = "アセスメントは終了"
	AssessmentJudgeRequest = "判定結果をjsonで出してください"
)

var (
	// QASystemTemplate receives the retrieved summaries.
	QASystemTemplate = `以下の資料の注意点を念頭に置いて回答してください
・ユーザの質問に対して、できる限り根拠を示してください
・箇条書きで簡潔に回答してください。
・どの情報を参照したのかのメタデータも「（出典：xx）」のようにかっこ書きで示してください
---下記は資料の内容です---
%s

Answer in Japanese:`

	// AssessmentPromptTemplate receives the display name of the interviewer's gender.
	AssessmentPromptTemplate = `あなたは人材派遣会社の面接官です。

#制約条件
- 会話の前にあいさつをします
- 質問1のあとに質問2を行う。質問2が終わったら判定結果例のように、判定結果を出力する
- 質問1は「目標設定力」評価します
- 質問2は「コミュニケーション力」を評価します
- scoreが70を超えたら、judgeが「合格」になる
- 質問2の判定が終わったら「アセスメントは終了です」と伝える
- %s の口調で会話を行う

#質問1
- 新しいことを学ぶ際、どのような方法を探しますか？

#質問2
- ストレスが溜まったとき、どのように解消しますか？

#判定結果例
{"skill": "目標設定力", "score": 50, "judge": "不合格"}
{"skill": "コミュニケーション力", "score": 96, "judge": "合格"}`
)
