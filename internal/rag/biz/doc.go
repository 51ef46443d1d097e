// Package biz 提供医疗病历 RAG 服务的业务逻辑层。
//
// 组件自底向上：
//   - Chunker: 将原始文本切分为固定大小、带重叠的文本块
//   - Compositor: 将结构化病历元数据合并进待嵌入文本
//   - Assembler: 将检索结果按排名组装为带出处标注的上下文
//   - Pipeline: 组合以上组件，提供 Ingest/Query/Update 三个入口
//   - TaskManager: 在协程池上异步执行入库，并暴露完成通道
//   - WebhookProcessor: 将数据库变更事件转换为入库操作
//   - QueryCache: 基于 Redis 的问答结果缓存
package biz
