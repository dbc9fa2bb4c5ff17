package domain

// FileJob 是一次 cycle 内单个匹配文件的处理单元（扫描时创建，写入/删除后丢弃）。
//
// 不变量：
// - SrcAbs、DstAbs 均为 clean + absolute
// - Name 是源文件在工作目录中的文件名（不含目录）
type FileJob struct {
	Name   string
	SrcAbs string
	DstAbs string
	Size   int64

	// InPlace 由 planner 按目录身份判定：输出目录经符号链接等别名指向工作目录时，
	// DstAbs 与 SrcAbs 字符串不同，但写入同样会替换源文件。
	InPlace bool
}

// SameFile 表示目标就是源文件本身（overwrite 且输出目录即工作目录，含别名）。
// 此时写入已替换源文件内容，删除源文件会丢失输出。
func (j FileJob) SameFile() bool { return j.InPlace || j.SrcAbs == j.DstAbs }
