package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
)

// User-facing messages. The service answers in Vietnamese.
const (
	msgOffTopic           = "Xin lỗi, tôi chỉ hỗ trợ các câu hỏi về tài liệu học tập, cơ sở dữ liệu và SQL. Bạn hãy đặt câu hỏi liên quan đến nội dung này nhé."
	msgNoRelevantInfo     = "Xin lỗi, tôi không tìm thấy thông tin liên quan trong tài liệu hoặc trên web để trả lời câu hỏi này."
	msgGenerationFailed   = "Xin lỗi, đã xảy ra lỗi khi tạo câu trả lời. Vui lòng thử lại sau."
	msgQuotaExhausted     = "Xin lỗi, dịch vụ tạo câu trả lời đang tạm thời quá tải. Vui lòng thử lại sau ít phút."
	msgRealtimeSearchFail = "Xin lỗi, tôi không thể tìm kiếm thông tin cập nhật lúc này. Vui lòng thử lại sau."
	msgAnswerTimedOut     = "Xin lỗi, câu trả lời mất quá nhiều thời gian và đã bị dừng. Vui lòng thử lại với câu hỏi ngắn gọn hơn."
	fallbackNotFound      = "Không tìm thấy thông tin phù hợp từ tìm kiếm web."
)

func buildClassifierPrompt(query string, history []domain.Turn) string {
	var b strings.Builder
	b.WriteString(`You classify questions sent to a study assistant for databases and SQL.
Return one JSON object with keys:
expanded_query (string: the question rewritten to be self-contained using the conversation, spelling fixed, abbreviations expanded),
query_type (one of "off_topic", "sql_code_task", "realtime_question", "document_question"),
corrections_made (array of {"wrong": string, "correct": string}).
No markdown.

Categories:
- off_topic: unrelated to databases, SQL or the study material (weather, sport, chit-chat). Example: "thời tiết hôm nay".
- sql_code_task: asks to write, fix, optimize or explain a concrete SQL statement. Example: "viết câu lệnh SQL lấy 5 sinh viên điểm cao nhất".
- realtime_question: needs current information such as releases, versions, news or dates. Example: "PostgreSQL 16 features 2024".
- document_question: concepts or theory answerable from the course documents. Example: "Khóa chính là gì?".
`)
	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		writeHistory(&b, history)
	}
	b.WriteString("\nQuestion:\n")
	b.WriteString(query)
	b.WriteString("\n")
	return b.String()
}

func buildDocumentPrompt(question string, contextBlock string, history []domain.Turn) string {
	var b strings.Builder
	b.WriteString(`Bạn là trợ lý học tập về cơ sở dữ liệu. Chỉ trả lời dựa trên ngữ cảnh bên dưới.
Trích dẫn nguồn bằng số trong ngoặc vuông, ví dụ [1]. Nếu ngữ cảnh không đủ, hãy nói rõ.
Trả lời bằng ngôn ngữ của câu hỏi.
`)
	if len(history) > 0 {
		b.WriteString("\nLịch sử hội thoại:\n")
		writeHistory(&b, history)
	}
	fmt.Fprintf(&b, "\nNgữ cảnh:\n%s\nCâu hỏi:\n%s\n", contextBlock, question)
	return b.String()
}

func buildSQLTaskPrompt(question string, history []domain.Turn) string {
	var b strings.Builder
	b.WriteString(`Bạn là chuyên gia SQL. Viết hoặc sửa câu lệnh SQL theo yêu cầu.
Đặt mã trong khối ` + "```sql" + ` và giải thích ngắn gọn từng bước.
`)
	if len(history) > 0 {
		b.WriteString("\nLịch sử hội thoại:\n")
		writeHistory(&b, history)
	}
	fmt.Fprintf(&b, "\nYêu cầu:\n%s\n", question)
	return b.String()
}

func buildRealtimePrompt(question string, searchContent string, history []domain.Turn) string {
	var b strings.Builder
	b.WriteString(`Bạn là trợ lý trả lời câu hỏi cần thông tin cập nhật. Chỉ dựa vào kết quả tìm kiếm web bên dưới.
Nêu rõ nguồn (URL) khi sử dụng thông tin. Nếu kết quả không đủ, hãy nói rõ.
`)
	if len(history) > 0 {
		b.WriteString("\nLịch sử hội thoại:\n")
		writeHistory(&b, history)
	}
	fmt.Fprintf(&b, "\nKết quả tìm kiếm:\n%s\n\nCâu hỏi:\n%s\n", searchContent, question)
	return b.String()
}

func buildContextBlock(passages []domain.Passage) string {
	var b strings.Builder
	for idx, p := range passages {
		switch p.Provenance {
		case domain.ProvenanceWebFallback:
			fmt.Fprintf(&b, "[%d] web urls=%s\n%s\n\n", idx+1, strings.Join(metadataStrings(p.Metadata, domain.MetaURLs), ", "), p.Text)
		default:
			fmt.Fprintf(&b, "[%d] source=%s page=%s section=%s score=%.3f\n%s\n\n",
				idx+1,
				metadataString(p.Metadata, domain.MetaSource),
				metadataString(p.Metadata, domain.MetaPage),
				metadataString(p.Metadata, domain.MetaSection),
				p.BoostedScore,
				p.Text,
			)
		}
	}
	return b.String()
}

func writeHistory(b *strings.Builder, history []domain.Turn) {
	for _, turn := range history {
		role := strings.TrimSpace(turn.Role)
		if role == "" {
			role = "user"
		}
		fmt.Fprintf(b, "%s: %s\n", role, strings.TrimSpace(turn.Text))
	}
}
