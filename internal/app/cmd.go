package app

// Command はsigninbridgeのサブコマンド。
type Command string

const (
	// CommandServe はコールバックを受けるHTTPサーバーを起動する（デフォルト）。
	CommandServe Command = "serve"
	// CommandWorker は期限切れのサインインリンクとセッションを定期削除する。
	CommandWorker Command = "worker"
	// CommandMigrate はローカルIDストアのスキーマを適用する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中サーバーの/healthを確認して終了する。
	// distrolessイメージのHEALTHCHECKから呼ばれる。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 引数なし・未知のコマンドはCommandServeとし、2番目以降の引数は無視する。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}

// RequiresPostgres はIDENTITY_STORE_DRIVER=postgresでのみ意味を持つコマンドかを返す。
// gotrueとmemoryはsigninbridge側にテーブルを持たない。
func (c Command) RequiresPostgres() bool {
	return c == CommandWorker || c == CommandMigrate
}
