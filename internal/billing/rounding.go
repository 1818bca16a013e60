package billing

// RoundCallDuration — округление длительности звонка до тарифицируемых минут.
// Звонки до 3 секунд не тарифицируются, неполная минута округляется вверх
func RoundCallDuration(minutes, seconds int) int {
	if minutes == 0 {
		if seconds <= 3 {
			return 0
		}
		return 1
	}
	if seconds == 0 {
		return minutes
	}
	return minutes + 1
}

// RoundInternetSession — объём сессии в тарифицируемых мегабайтах.
// Хвост в килобайтах не тарифицируется
func RoundInternetSession(megabytes, kilobytes int) int {
	_ = kilobytes
	return megabytes
}
