// Package prompts holds the fixed instructional prompts sent to the
// vision-language and completion services. The indexing language is
// Chinese, so every prompt steers the models there.
package prompts

const (
	// PageRecognition is attached to each rendered page image.
	PageRecognition = "请提取图片中的产品信息"

	// IntegrationSystem and Integration drive document summarization.
	IntegrationSystem = "你是一个文档处理员"
	Integration       = "请帮忙整合以下文档 %s"

	// TranslationSystem and Translation normalize questions to the
	// indexing language.
	TranslationSystem = "你是一个专业的翻译助手，请将用户输入的内容准确翻译成中文。"
	Translation       = "请将以下内容翻译成中文，只返回翻译结果，不要添加任何解释：%s"

	// AnswerSystem and Answer build the final question-answering call.
	AnswerSystem = "你是一个专业的文档问答助手，请基于提供的文档内容准确回答用户问题。"
	Answer       = "基于以下检索到的文档内容，回答用户的问题。如果文档内容不足以回答问题，请说明。\n\n用户问题：%s\n\n检索到的文档内容：%s"
)
