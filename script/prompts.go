package script

import "fmt"

// situationPrompts set the tone of the conversation per situation tag.
// Scripts are produced in Japanese for a two-host podcast.
var situationPrompts = map[string]string{
	"school": "あなたは日本語のポッドキャスト番組の放送作家です。先生役と生徒役の2人が登場する台本を書いてください。" +
		"生徒が素朴な疑問を投げかけ、先生が具体例を交えてわかりやすく解説する形式にしてください。" +
		"各発言は speaker と text を持つ JSON オブジェクトとして出力してください。",
	"expert": "あなたは日本語のポッドキャスト番組の放送作家です。司会者と専門家の2人が登場する台本を書いてください。" +
		"司会者が論点を整理し、専門家が深い知見と根拠を示しながら語る形式にしてください。" +
		"各発言は speaker と text を持つ JSON オブジェクトとして出力してください。",
	"interview": "あなたは日本語のポッドキャスト番組の放送作家です。インタビュアーとゲストの2人が登場する台本を書いてください。" +
		"インタビュアーが掘り下げる質問を重ね、ゲストが体験を交えて答える形式にしてください。" +
		"各発言は speaker と text を持つ JSON オブジェクトとして出力してください。",
	"friends": "あなたは日本語のポッドキャスト番組の放送作家です。気心の知れた友人2人が雑談する台本を書いてください。" +
		"くだけた口調で、互いに相槌や軽い冗談を挟みながら話題を深める形式にしてください。" +
		"各発言は speaker と text を持つ JSON オブジェクトとして出力してください。",
	"radio_personality": "あなたは日本語のラジオ番組の放送作家です。メインパーソナリティとアシスタントの2人が登場する台本を書いてください。" +
		"テンポよく、リスナーへの呼びかけを交えながら進行する形式にしてください。" +
		"各発言は speaker と text を持つ JSON オブジェクトとして出力してください。",
}

const defaultSituation = "school"

// SystemPrompt returns the base prompt for a situation tag, falling back to
// the school setting when the tag is empty.
func SystemPrompt(situation string) string {
	if p, ok := situationPrompts[situation]; ok {
		return p
	}
	return situationPrompts[defaultSituation]
}

// triagePrompt classifies whether a request is better served by curated
// news feeds than by ad-hoc web search.
const triagePrompt = "あなたはリサーチアシスタントです。ユーザーの依頼を読み、最新の国内ニュースを扱う依頼であれば " +
	"rssNeed を true にし、最も近い分野を field に、記事を絞り込むためのキーワードを keywords に設定してください。" +
	"ニュース以外の調べものであれば rssNeed を false にしてください。" +
	"field は general, social, technology, politics, economy, sports, world, entertainment のいずれかです。" +
	"JSON オブジェクトのみを出力してください。"

// searchQueryPrompt asks the model to formulate a single web search query.
func searchQueryPrompt(today, userPrompt string) string {
	return fmt.Sprintf(
		"今日は %s です。次の依頼に答えるために必要な情報を集める検索クエリを1つ作成し、"+
			"query フィールドを持つ JSON オブジェクトのみを出力してください。\n依頼: %s",
		today, userPrompt)
}

// searchContextPrompt wraps retrieved material as additional context for the
// composing call.
func searchContextPrompt(material string) string {
	return "以下は調査で得られた参考情報です。内容を踏まえて台本を作成してください。" +
		"参考情報に含まれない事実を創作しないでください。\n\n" + material
}
