package errors

import "net/http"

// OK represents a successful operation.
var OK = Register(&Errno{
	Code:      0,
	HTTP:      http.StatusOK,
	MessageEN: "Success",
	MessageZH: "成功",
})

// 通用错误
var (
	ErrBadRequest = Register(New(MakeCode(ServiceCommon, CategoryRequest, 0),
		http.StatusBadRequest, "Bad request", "请求错误"))

	ErrInvalidParam = Register(New(MakeCode(ServiceCommon, CategoryRequest, 1),
		http.StatusBadRequest, "Invalid parameter", "参数无效"))

	ErrNotFound = Register(New(MakeCode(ServiceCommon, CategoryNotFound, 0),
		http.StatusNotFound, "Resource not found", "资源不存在"))

	ErrTooManyRequests = Register(New(MakeCode(ServiceCommon, CategoryRateLimit, 0),
		http.StatusTooManyRequests, "Too many requests", "请求过于频繁"))

	ErrInternal = Register(New(MakeCode(ServiceCommon, CategoryInternal, 0),
		http.StatusInternalServerError, "Internal server error", "服务器内部错误"))

	ErrTimeout = Register(New(MakeCode(ServiceCommon, CategoryTimeout, 0),
		http.StatusGatewayTimeout, "Request timeout", "请求超时"))
)

// medrag 服务错误
var (
	ErrIngestFailed = Register(New(MakeCode(ServiceMedRAG, CategoryInternal, 1),
		http.StatusInternalServerError, "Failed to ingest document", "文档入库失败"))

	ErrUpdateFailed = Register(New(MakeCode(ServiceMedRAG, CategoryInternal, 2),
		http.StatusInternalServerError, "Failed to update document", "文档更新失败"))

	ErrWebhookFailed = Register(New(MakeCode(ServiceMedRAG, CategoryInternal, 3),
		http.StatusInternalServerError, "Failed to process webhook", "Webhook 处理失败"))

	ErrStoreUnavailable = Register(New(MakeCode(ServiceMedRAG, CategoryDatabase, 1),
		http.StatusServiceUnavailable, "Vector store unavailable", "向量存储不可用"))

	ErrTaskNotFound = Register(New(MakeCode(ServiceMedRAG, CategoryNotFound, 1),
		http.StatusNotFound, "Ingest task not found", "入库任务不存在"))

	ErrTaskQueueFull = Register(New(MakeCode(ServiceMedRAG, CategoryRateLimit, 1),
		http.StatusTooManyRequests, "Ingest queue is full", "入库队列已满"))

	ErrEmptyContent = Register(New(MakeCode(ServiceMedRAG, CategoryRequest, 1),
		http.StatusBadRequest, "Content is required", "文档内容不能为空"))
)
