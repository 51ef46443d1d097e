// Package store 提供病历向量的存储层。
//
// 该包定义了向量存储接口以及三种实现：进程内存储（memory）、
// Milvus 与 PostgreSQL pgvector。所有实现都在写入和查询时校验向量维度，
// 并在读取时将字符串形式的元数据解码为结构化映射。
package store
