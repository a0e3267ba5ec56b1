// Package jobs はスクレイピングジョブの登録と実行管理を提供します。
//
// ジョブは Registry にメモリ上で保持され、プロセス再起動をまたいで永続化されません。
// 状態は running から completed または error へ一方向にのみ遷移します。
package jobs
